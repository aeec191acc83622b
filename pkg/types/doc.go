// Package types defines the data shared between the master, the dispatch
// transports, workers and API clients: tasks, workers, assignments, events
// and the WebSocket wire envelopes.
package types
