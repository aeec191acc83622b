// Package dispatch connects the master loop to its workers.
//
// Local runs workers as goroutines inside the master process. The ws
// subpackage accepts remote workers over WebSocket. Both buffer worker
// traffic in an EventBuffer that the loop drains once per cycle.
package dispatch
