// Package psep implements a Pooled Streaming Event Processor: a concurrent
// core that consumes an append-only, totally-ordered event stream,
// partitions it into independently advancing segments, and dispatches
// events to a user-supplied handler with at-least-once delivery per
// segment, exclusive ownership per segment across a fleet of processes,
// and durable progress tracking.
//
// The three collaborating pieces are the Coordinator (owns the upstream
// stream and fans events out to Work Packages), the Work Package (drains
// one segment's queue and persists its progress), and the Token Store
// (arbitrates segment ownership across processes via compare-and-set).
// See the coordinator, workpackage, tokenstore, source, and invoker
// subpackages for each piece; the processor subpackage ties them
// together behind the Processor façade.
package psep
