// Package progress carries resolution milestones from the resolver to
// pluggable sinks. Events are batched on a background goroutine so emitters
// never wait on logging, metrics or database writes.
package progress
