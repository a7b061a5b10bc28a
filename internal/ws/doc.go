// Package ws streams the latest team reports to WebSocket clients.
//
// Every client receives the current reports immediately on connect, then a
// fresh copy on every broadcast tick and whenever Broadcast is called (the
// worker calls it after each run). Slow clients whose send buffer fills up
// are disconnected.
package ws
