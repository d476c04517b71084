// Package taskqueue provides go-job queue backends for inbox process tasks.
//
// Both backends are at-least-once: a task may be delivered again after a
// worker crash or an explicit nack. Consumers absorb duplicates through the
// buffered row status.
package taskqueue
