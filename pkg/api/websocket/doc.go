// Package websocket provides real-time event streaming via WebSocket.
//
// Hosts connect to /api/v1/ws to receive run commands, error reports and
// checkpoint notifications as JSON events.
package websocket
