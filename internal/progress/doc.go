// The Hub decouples crawl workers from progress consumers. Workers call Emit,
// which never blocks; a single goroutine batches events by size or age and
// hands each batch to every Sink in registration order. Sinks live in the
// sinks subpackage: structured logs, Prometheus counters and a terminal
// progress bar.
package progress
