// Package log provides structured logging built on zerolog.
//
// A single global Logger is configured once via Init and child loggers
// are derived with WithComponent/WithNodeID/WithIndex/WithShard so that
// every log line carries the context of the subsystem that emitted it.
package log
