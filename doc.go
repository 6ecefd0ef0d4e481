// Package kvbrowse is the client-side orchestration engine for browsing a
// remote key-value store's keyspace from an interactive application. It
// provides the shared types, error codes, request identity, configuration,
// and the bounded worker pool that executes blocking store operations off the
// foreground. Concrete pieces live in subpackages: keytree holds the
// incremental delimiter-grouped key cache, dispatch holds the single-threaded
// request coordinator and pagination controller, and redis adapts the
// go-redis client to the StoreClient collaborator interface.
//
// The engine never blocks the coordination context: submissions return
// immediately and results surface later on the coordinator's own goroutine.
package kvbrowse

// Timeout model
//
// Every operation handed to the worker pool carries a deadline. The pool runs
// the operation under a context bounded by that deadline and, on expiry,
// surfaces a Timeout outcome and releases the worker slot; the abandoned
// operation is left to finish on its own goroutine and its result is
// discarded. Callers therefore always get exactly one outcome per submission:
// success, failure, timeout, or cancellation.
