package store

import "github.com/yourusername/tokengate/core"

// Registry is the concurrent key -> bucket store. It owns every bucket;
// callers only hold bucket references for the duration of one operation.
type Registry interface {
	// GetOrCreate returns the bucket for key, creating it with cfg when
	// absent. Concurrent creators for the same unseen key observe a
	// single winner.
	GetOrCreate(key string, cfg core.Config) *core.Bucket

	// Get returns the bucket for key, or false when the key is unknown.
	Get(key string) (*core.Bucket, bool)

	// Delete removes the bucket for key, reporting whether one existed.
	Delete(key string) bool

	// List returns a point-in-time copy of all buckets. It does not hold
	// a global lock across the copy.
	List() []*core.Bucket

	// Count returns the number of tracked keys.
	Count() int
}
