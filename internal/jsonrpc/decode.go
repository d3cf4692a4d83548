package jsonrpc

import (
	"errors"
	"fmt"

	mcpjsonrpc "github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Kind classifies an incoming frame.
type Kind int

const (
	// KindMalformed is a frame that is not a valid JSON-RPC message.
	KindMalformed Kind = iota
	// KindResponse carries an id and a result or error.
	KindResponse
	// KindNotification carries a method and no id.
	KindNotification
	// KindRequest carries an id and a method; the peer expects an answer.
	KindRequest
)

func (k Kind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	case KindRequest:
		return "request"
	default:
		return "malformed"
	}
}

// Message is the decoded form of one frame. Request is set for KindRequest
// and KindNotification, Response for KindResponse.
type Message struct {
	Kind     Kind
	Request  *Request
	Response *Response
	// Err explains why a frame is KindMalformed.
	Err error
}

var (
	errBothOutcomes = errors.New("response has both result and error")
	errNoOutcome    = errors.New("response has neither result nor error")
)

// Decode parses one frame with the SDK decoder and classifies the result.
// The SDK requires "jsonrpc":"2.0" and rejects responses without an id.
func Decode(frame []byte) Message {
	msg, err := mcpjsonrpc.DecodeMessage(frame)
	if err != nil {
		return malformed(err)
	}

	switch m := msg.(type) {
	case *Request:
		if !m.IsCall() {
			return Message{Kind: KindNotification, Request: m}
		}

		return Message{Kind: KindRequest, Request: m}
	case *Response:
		hasResult := len(m.Result) > 0

		switch {
		case hasResult && m.Error != nil:
			return malformed(errBothOutcomes)
		case !hasResult && m.Error == nil:
			return malformed(errNoOutcome)
		}

		return Message{Kind: KindResponse, Response: m}
	default:
		return malformed(fmt.Errorf("unexpected message type %T", msg))
	}
}

func malformed(err error) Message {
	return Message{Kind: KindMalformed, Err: err}
}
