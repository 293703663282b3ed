package rpc

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"
)

func TestMessageIDPacksAndUnpacks(t *testing.T) {
	id := NewMessageID(true, 1234, 987654321)
	if !MessageIDFromServer(id) {
		t.Fatalf("expected server-origin bit set")
	}
	if got := MessageIDCore(id); got != 1234 {
		t.Fatalf("core = %d, want 1234", got)
	}
	if got := MessageIDCounter(id); got != 987654321 {
		t.Fatalf("counter = %d, want 987654321", got)
	}

	clientID := NewMessageID(false, 0, 1)
	if MessageIDFromServer(clientID) {
		t.Fatalf("expected client-origin bit clear")
	}
}

func TestMessageIDZeroReservedNeverAllocated(t *testing.T) {
	a := NewMessageIDAllocator(0, false)
	if id := a.Next(); id == 0 {
		t.Fatalf("first allocated id must not be the reserved 0 value")
	}
}

func TestSplitMessageSoleChunkForSmallPayload(t *testing.T) {
	payload := bytes.Repeat([]byte{'a'}, 100)
	chunks := SplitMessage(42, payload)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if !chunks[0].Header.IsSole() {
		t.Fatalf("expected sole chunk flags, got %08b", chunks[0].Header.Flags)
	}
}

func TestSplitMessagePromotesLargePayloadToLargeChunks(t *testing.T) {
	payload := bytes.Repeat([]byte{'b'}, maxLargePayload*2+100)
	chunks := SplitMessage(7, payload)
	if len(chunks) < 2 {
		t.Fatalf("expected more than one chunk for an over-small payload, got %d", len(chunks))
	}
	if !chunks[0].Header.IsFirst() || chunks[0].Header.IsLast() {
		t.Fatalf("first chunk flags wrong: %08b", chunks[0].Header.Flags)
	}
	last := chunks[len(chunks)-1]
	if !last.Header.IsLast() || last.Header.IsFirst() {
		t.Fatalf("last chunk flags wrong: %08b", last.Header.Flags)
	}
	for _, c := range chunks {
		if int(c.Header.ChunkSize)-HeaderSize > maxLargePayload {
			t.Fatalf("chunk payload exceeds large chunk capacity: %d", c.Header.ChunkSize)
		}
	}

	var reassembled []byte
	for _, c := range chunks {
		reassembled = append(reassembled, c.Payload...)
	}
	if !bytes.Equal(reassembled, payload) {
		t.Fatalf("reassembled payload does not match original")
	}
}

func TestReassemblerAcceptsMultiChunkMessage(t *testing.T) {
	r := NewReassembler(1000, time.Minute)
	payload := bytes.Repeat([]byte{'c'}, maxLargePayload*2+50)
	chunks := SplitMessage(1, payload)
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks to exercise multi-chunk reassembly, got %d", len(chunks))
	}

	var got []byte
	for i, c := range chunks {
		msg, complete, _ := r.Accept(c.Header, c.Payload)
		if i < len(chunks)-1 {
			if complete {
				t.Fatalf("message completed early at chunk %d", i)
			}
		} else {
			if !complete {
				t.Fatalf("message did not complete on its last chunk")
			}
			got = msg
		}
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("reassembled payload mismatch")
	}
}

func TestReassemblerPrunesExpiredMessages(t *testing.T) {
	r := NewReassembler(1000, time.Millisecond)
	chunks := SplitMessage(9, bytes.Repeat([]byte{'d'}, maxLargePayload*2+50))
	if chunks[0].Header.IsLast() {
		t.Fatalf("test setup: expected the first chunk to not also be the last")
	}
	r.Accept(chunks[0].Header, chunks[0].Payload)

	expired := r.PruneExpired(time.Now().Add(time.Hour))
	if len(expired) != 1 || expired[0] != 9 {
		t.Fatalf("expected message 9 to be pruned, got %v", expired)
	}
}

func TestPendingTableCompleteDeliversResult(t *testing.T) {
	p := NewPendingTable()
	entry := p.Register(55, time.Second)

	if !p.Complete(55, []byte("resp")) {
		t.Fatalf("Complete on a registered id should succeed")
	}
	res := <-entry.done
	if res.err != nil || string(res.payload) != "resp" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPendingTableCompleteUnknownIDFails(t *testing.T) {
	p := NewPendingTable()
	if p.Complete(999, nil) {
		t.Fatalf("Complete on an unregistered id should report false")
	}
}

func TestPendingTableExpirePastTimesOut(t *testing.T) {
	p := NewPendingTable()
	entry := p.Register(3, 0)
	p.ExpirePast(time.Now().Add(time.Second))
	res := <-entry.done
	if res.err == nil {
		t.Fatalf("expected a timeout error")
	}
}

func TestDispatcherInvokesRegisteredHandler(t *testing.T) {
	registry := NewRegistry()
	registry.Register("double", func(ctx context.Context, payload []byte) ([]byte, error) {
		out := make([]byte, len(payload)*2)
		copy(out, payload)
		copy(out[len(payload):], payload)
		return out, nil
	})
	d := NewDispatcher(registry, 2, 10)
	defer d.Shutdown()

	done := make(chan []byte, 1)
	ok := d.Submit(context.Background(), "double", []byte("hi"), func(resp []byte, err error) {
		if err != nil {
			t.Errorf("handler returned error: %v", err)
		}
		done <- resp
	})
	if !ok {
		t.Fatalf("Submit should have succeeded")
	}
	select {
	case resp := <-done:
		if string(resp) != "hihi" {
			t.Fatalf("got %q, want %q", resp, "hihi")
		}
	case <-time.After(time.Second):
		t.Fatalf("handler never ran")
	}
}

func TestDispatcherUnknownServiceErrors(t *testing.T) {
	registry := NewRegistry()
	d := NewDispatcher(registry, 1, 10)
	defer d.Shutdown()

	errCh := make(chan error, 1)
	d.Submit(context.Background(), "nope", nil, func(resp []byte, err error) {
		errCh <- err
	})
	if err := <-errCh; err == nil {
		t.Fatalf("expected an error for an unregistered service")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	msg := encodeEnvelope("my.service", []byte("payload"))
	service, body, err := decodeEnvelope(msg)
	if err != nil {
		t.Fatalf("decodeEnvelope: %v", err)
	}
	if service != "my.service" || string(body) != "payload" {
		t.Fatalf("round trip mismatch: service=%q body=%q", service, body)
	}
}

func TestConnRequestResponseOverPipe(t *testing.T) {
	clientSide, serverSide := net.Pipe()

	serverRegistry := NewRegistry()
	serverRegistry.Register("echo", func(ctx context.Context, payload []byte) ([]byte, error) {
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	})
	serverDispatch := NewDispatcher(serverRegistry, 2, 10)
	defer serverDispatch.Shutdown()

	clientDispatch := NewDispatcher(NewRegistry(), 1, 10)
	defer clientDispatch.Shutdown()

	serverConn := NewConn(serverSide, 0, true, serverDispatch)
	clientConn := NewConn(clientSide, 0, false, clientDispatch)

	go serverConn.Serve()
	go clientConn.Serve()
	defer serverConn.Close()
	defer clientConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := clientConn.Request(ctx, "echo", []byte("ping"))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if string(resp) != "ping" {
		t.Fatalf("got %q, want %q", resp, "ping")
	}
}
