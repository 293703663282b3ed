package rpc

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/heliumdb/helium/internal/errs"
)

// DefaultMaxQueuedChunks is the reassembler's bound on buffered chunks of
// incomplete messages. Serve receives the over-budget signal but does not
// pause its read loop when the bound is exceeded.
const DefaultMaxQueuedChunks = 4096

// DefaultChunkTimeout aborts a message whose chunks stop arriving.
const DefaultChunkTimeout = 30 * time.Second

// DefaultRequestTimeout bounds how long Request waits for a response.
const DefaultRequestTimeout = 10 * time.Second

// Conn is one chunked-RPC connection: a single-threaded receive loop (per
// spec.md §4.5: "Receive is single-threaded per connection") feeding a
// Reassembler and a Dispatcher, plus a Request path for messages this
// side originates.
type Conn struct {
	nc         net.Conn
	dispatcher *Dispatcher
	ids        *MessageIDAllocator
	reassembly *Reassembler
	pending    *PendingTable

	sendMu sync.Mutex
	bw     *bufio.Writer

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps nc. core identifies this connection's originating CPU
// core for message-id assignment; fromServer is true on the accepting
// side of a listener, false on the dialing side.
func NewConn(nc net.Conn, core uint16, fromServer bool, dispatcher *Dispatcher) *Conn {
	return &Conn{
		nc:         nc,
		dispatcher: dispatcher,
		ids:        NewMessageIDAllocator(core, fromServer),
		reassembly: NewReassembler(DefaultMaxQueuedChunks, DefaultChunkTimeout),
		pending:    NewPendingTable(),
		bw:         bufio.NewWriterSize(nc, LargeChunkSize),
	}
}

// Serve runs the receive loop until the connection is closed or a
// protocol error requires tearing it down (spec.md §4.5's error list:
// corrupt header, oversize chunk, unsupported header version, response to
// an unknown message id). It returns nil on a graceful peer close.
func (c *Conn) Serve() error {
	defer c.failPending(io.ErrClosedPipe)

	for {
		h, err := DecodeChunkHeader(c.nc)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return c.abort(errs.Wrap(errs.KindCommunication, errs.SubCorruptMessage, "truncated chunk header", err))
		}
		if h.HeaderVersion != CurrentHeaderVersion {
			return c.abort(errs.New(errs.KindCommunication, errs.SubUnsupportedHeader, "unsupported chunk header version"))
		}
		if h.ChunkSize < HeaderSize || h.ChunkSize > LargeChunkSize {
			return c.abort(errs.New(errs.KindCommunication, errs.SubCorruptMessage, "chunk size out of bounds"))
		}

		payload := make([]byte, h.ChunkSize-HeaderSize)
		if _, err := io.ReadFull(c.nc, payload); err != nil {
			return c.abort(errs.Wrap(errs.KindCommunication, errs.SubCorruptMessage, "truncated chunk payload", err))
		}

		msg, complete, overBudget := c.reassembly.Accept(h, payload)
		_ = overBudget // reads continue even when over budget
		if !complete {
			continue
		}

		if c.pending.Complete(h.MessageID, msg) {
			// This was a response to a request we sent.
			continue
		}
		if MessageIDFromServer(h.MessageID) == c.ids.fromServer {
			// The id carries this side's direction bit, so the message
			// answers a request we sent, but nothing is pending under it.
			return c.abort(errs.New(errs.KindCommunication, errs.SubCorruptMessage, "response to an unknown message id"))
		}

		// Otherwise it's an inbound request: dispatch it and echo the
		// response under the same message id.
		service, body, err := decodeEnvelope(msg)
		if err != nil {
			return c.abort(err)
		}
		id := h.MessageID
		ok := c.dispatcher.Submit(context.Background(), service, body, func(resp []byte, herr error) {
			if herr != nil {
				resp = nil
			}
			c.send(id, resp)
		})
		if !ok {
			c.send(id, nil)
		}
	}
}

// Request sends a request for service and blocks for a response, subject
// to ctx and DefaultRequestTimeout.
func (c *Conn) Request(ctx context.Context, service string, body []byte) ([]byte, error) {
	id := c.ids.Next()
	entry := c.pending.Register(id, DefaultRequestTimeout)

	if err := c.send(id, encodeEnvelope(service, body)); err != nil {
		c.pending.resolve(id, result{err: err})
		<-entry.done
		return nil, err
	}

	select {
	case res := <-entry.done:
		return res.payload, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// send writes one message's chunks under an exclusive per-connection send
// lock, so a single call never interleaves with another sender's chunks
// — spec.md §4.5's "sending acquires a per-connection ... lock while the
// socket is held exclusively for a single send call". Small chunks of the
// same send are coalesced into one underlying Write by the buffered
// writer (the "grouping sender").
func (c *Conn) send(id uint64, payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	for _, chunk := range SplitMessage(id, payload) {
		if err := EncodeChunkHeader(c.bw, chunk.Header); err != nil {
			return err
		}
		if _, err := c.bw.Write(chunk.Payload); err != nil {
			return err
		}
	}
	return c.bw.Flush()
}

// ExpireTimeouts sweeps both the reassembler and the pending table for
// stale state; callers run this on a ticker.
func (c *Conn) ExpireTimeouts(now time.Time) {
	c.reassembly.PruneExpired(now)
	c.pending.ExpirePast(now)
}

func (c *Conn) abort(err error) error {
	c.closeOnce.Do(func() {
		c.closeErr = err
		c.nc.Close()
	})
	return err
}

func (c *Conn) failPending(cause error) {
	c.pending.FailAll(errs.Wrap(errs.KindCommunication, errs.SubClosed, "connection closed", cause))
}

// Close tears the connection down.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.nc.Close()
	})
	return c.closeErr
}
