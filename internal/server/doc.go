// Package server implements the packet chat server.
//
// Clients connect over TCP, or over WebSocket binary frames, and exchange the
// fixed-size packets defined in package protocol. Each connection is served by
// one session goroutine that authenticates the client and dispatches its
// requests. Shared state lives in two fixed-capacity tables, ClientRegistry
// and RoomRegistry, each guarded by its own reader/writer lock; rooms carry a
// third lock for their member slots. Locks are always taken in the order
// client registry, room registry, room.
//
// File uploads are buffered in per-client slots and written to the store when
// complete. Downloads are streamed by worker goroutines that the session waits
// for before its cleanup finishes.
package server
