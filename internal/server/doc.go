// Package server wires the HTTP surface: the WebSocket upgrade route, the
// poll update notification endpoint, and health/metrics endpoints.
package server
