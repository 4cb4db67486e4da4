// Package sockline manages a single shared websocket channel and dispatches
// the events it carries to independent subscribers.
//
// A Manager is built once per process and passed to whatever needs it. The
// channel is never opened implicitly: Connect starts the handshake and its
// outcome arrives as a connect or connect_error event, Disconnect closes it
// and emits disconnect. Subscriptions are made with Subscribe (or through a
// Scope, which releases them together) and removed with the returned handle.
//
// All events, inbound messages and lifecycle notifications alike, are
// delivered in order by a single dispatcher goroutine. For one event,
// handlers run in the order they were registered.
//
// Messages on the wire are JSON text frames:
//
//	{"type": "notification", "payload": {"text": "hello"}}
package sockline
