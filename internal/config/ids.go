package config

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/wagiedev/mcp-client-go/internal/jsonrpc"
)

// IDGenerator returns a fresh request id on every call.
// Implementations must be safe for concurrent use.
type IDGenerator func() jsonrpc.ID

// ULIDs generates string ids from ULIDs. ulid.Make is monotonic within a
// process, so ids are unique for the life of a session.
func ULIDs() IDGenerator {
	return func() jsonrpc.ID {
		return jsonrpc.StringID(ulid.Make().String())
	}
}

// SequentialIDs generates integer ids 1, 2, 3, ...
func SequentialIDs() IDGenerator {
	var next atomic.Int64

	return func() jsonrpc.ID {
		return jsonrpc.IntID(next.Add(1))
	}
}

// UUIDs generates random version 4 UUID string ids.
func UUIDs() IDGenerator {
	return func() jsonrpc.ID {
		return jsonrpc.StringID(uuid.NewString())
	}
}
