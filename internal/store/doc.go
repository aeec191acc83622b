// Package store holds the task records of a master.
//
// A task moves waiting -> running -> done, or running -> retrying -> running
// after a counted failure, or running -> failed once its retry limit is
// exhausted. Worker loss sends a running task back to waiting without
// counting a failure. Every transition is written to a Journal (memory,
// redis, mysql or postgres) so that Restore can rebuild the queue.
package store
