package rpc

import (
	"encoding/binary"

	"github.com/heliumdb/helium/internal/errs"
)

// envelope is the message payload shape carried inside a request's
// chunks: a length-prefixed service name identifying which registered
// Handler should process the body. Responses carry the body alone — the
// message id already correlates them back to the request.
func encodeEnvelope(service string, body []byte) []byte {
	buf := make([]byte, 2+len(service)+len(body))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(service)))
	copy(buf[2:2+len(service)], service)
	copy(buf[2+len(service):], body)
	return buf
}

func decodeEnvelope(msg []byte) (service string, body []byte, err error) {
	if len(msg) < 2 {
		return "", nil, errs.New(errs.KindCommunication, errs.SubCorruptMessage, "envelope shorter than its length prefix")
	}
	n := int(binary.LittleEndian.Uint16(msg[0:2]))
	if len(msg) < 2+n {
		return "", nil, errs.New(errs.KindCommunication, errs.SubCorruptMessage, "envelope service name truncated")
	}
	return string(msg[2 : 2+n]), msg[2+n:], nil
}
