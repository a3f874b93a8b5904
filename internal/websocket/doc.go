// Package websocket owns the client-facing realtime layer: the wire
// envelope codec, the per-connection writer, and the subscription Registry
// that maps connections to the polls they watch.
package websocket
