// Package master implements the coordinating side of work-queue.
//
// A Master owns the task store and the worker registry. Its loop drains
// worker events from a dispatch channel, evicts workers that stopped
// heartbeating, asks the scheduler for assignments and sends them out.
// All state transitions happen on the loop goroutine; other goroutines only
// submit, remove and read.
package master
