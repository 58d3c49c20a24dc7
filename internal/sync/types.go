// Package sync holds the pure parts of the sync engine: queue ordering,
// batch assembly with integrity fingerprints, and conflict resolution.
// Nothing in this package performs I/O.
package sync

// Default engine settings.
const (
	DefaultBatchSize  = 50
	DefaultMaxRetries = 3
)
