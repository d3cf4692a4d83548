// Package protocol implements the JSON-RPC request/response machinery of a
// client session.
//
// The protocol package provides a Controller that correlates outgoing
// requests with their responses and routes everything else the peer sends.
//
// The Controller handles:
//   - Sending requests with unique ids through a correlation Table
//   - Request timeout enforcement and context cancellation
//   - Dispatching notifications to registered handlers
//   - Answering requests initiated by the peer
//   - Failing every pending request when the connection is lost
//
// Example usage:
//
//	transport, _ := subprocess.Spawn(ctx, log, options)
//
//	controller := protocol.NewController(log, transport, protocol.Config{
//		IDGenerator: config.ULIDs(),
//	})
//	go controller.Run()
//
//	// Send a request with timeout
//	result, err := controller.Call(ctx, "tools/list", nil, 5*time.Second)
package protocol
