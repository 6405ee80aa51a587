package match

import (
	"sync/atomic"

	"github.com/echotrace/echotrace/pkg/models"
)

// Corpus is a read-mostly in-memory snapshot of candidate fingerprints used
// by the streaming matcher to avoid a storage round-trip per tick. Readers
// see immutable snapshots; a reload publishes a fresh slice with an atomic
// pointer swap and never mutates a published snapshot in place.
type Corpus struct {
	snapshot atomic.Pointer[[]models.StoredFingerprint]
}

func NewCorpus() *Corpus {
	c := &Corpus{}
	empty := make([]models.StoredFingerprint, 0)
	c.snapshot.Store(&empty)
	return c
}

// Replace publishes items as the new snapshot. The caller must not modify
// items afterwards.
func (c *Corpus) Replace(items []models.StoredFingerprint) {
	c.snapshot.Store(&items)
}

// Len returns the size of the current snapshot.
func (c *Corpus) Len() int {
	return len(*c.snapshot.Load())
}

// Source returns a candidate source over the current snapshot. Concurrent
// reloads do not affect an iteration already in progress.
func (c *Corpus) Source() models.CandidateSource {
	return models.NewSliceSource(*c.snapshot.Load())
}
