// Package workflow is a small durable job-tree engine. Every run is a record
// in a core.RunStore addressed by a deterministic id; runs are dispatched as
// go-job style messages that carry only that id, so any worker can pick them
// up and a restarted process can resume unfinished runs from their records.
//
// A handler starts children with Execution.StartChild and waits for them
// with Handle.Result. Children carry their own deadline. A parent that is
// executed again after a crash reattaches to children that already exist
// instead of starting them twice.
package workflow
