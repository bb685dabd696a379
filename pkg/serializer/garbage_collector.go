package serializer

import (
	"context"
	"sync"

	"github.com/tessera-db/tessera/pkg/util"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	garbageCollectorMetrics sync.Once

	garbageCollectorRelocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tessera",
			Subsystem: "serializer",
			Name:      "garbage_collector_relocations_total",
			Help:      "Number of block relocation attempts, partitioned by outcome.",
		},
		[]string{"store", "outcome"})
	garbageCollectorCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tessera",
			Subsystem: "serializer",
			Name:      "garbage_collector_cycles_total",
			Help:      "Number of garbage collection cycles performed.",
		},
		[]string{"store"})
)

type blockRelocation struct {
	blockID   BlockID
	timestamp Timestamp
	token     *BlockToken
}

// CollectGarbage performs one garbage collection cycle. Old extents
// whose liveness has dropped below the configured threshold are
// compacted, lowest liveness first, until the relocation budget for
// this cycle is exhausted. Live blocks are copied out through the
// ordinary block write path; a deletion or overwrite racing with the
// copy simply wins, making the copy a harmless no-op.
func (s *Serializer) CollectGarbage(ctx context.Context) error {
	garbageCollectorMetrics.Do(func() {
		prometheus.MustRegister(garbageCollectorRelocations)
		prometheus.MustRegister(garbageCollectorCycles)
	})
	garbageCollectorCycles.WithLabelValues(s.storeName).Inc()

	// Blocks that are reachable only through caller-held tokens have
	// no index entry and cannot be relocated, so an extent may still
	// carry live bytes after it has been compacted. Visit every
	// extent at most once per cycle.
	attempted := map[uint32]bool{}
	budgetBytes := s.gcBudgetBytes
	for budgetBytes > 0 {
		s.lock.Lock()
		extent, ok := s.extents.pickCompactionCandidateLocked(s.gcLivenessThreshold, attempted)
		if !ok {
			s.lock.Unlock()
			return nil
		}
		attempted[extent] = true
		var relocations []blockRelocation
		for blockID, entry := range s.index.entries {
			if !entry.deleted && entry.token.extent == extent {
				relocations = append(relocations, blockRelocation{
					blockID:   blockID,
					timestamp: entry.timestamp,
					token:     entry.token.Acquire(),
				})
			}
		}
		s.lock.Unlock()

		var relocationErr error
		for _, r := range relocations {
			if relocationErr == nil {
				if err := s.relocateBlock(ctx, r); err != nil {
					relocationErr = util.StatusWrapf(err, "Failed to relocate block %d out of extent %d", r.blockID, extent)
				} else {
					budgetBytes -= r.token.slotSizeBytes(s.slotAlignmentBytes)
				}
			}
			r.token.Release()
		}

		s.lock.Lock()
		s.extents.compactionFinishedLocked(extent)
		s.lock.Unlock()
		if relocationErr != nil {
			return relocationErr
		}
	}
	return nil
}

// relocateBlock copies a single live block into the active extent and
// rebinds its index entry to the new copy. The entry is only rebound
// if it still carries the timestamp that was sampled when the cycle
// started; otherwise the block was deleted or overwritten in the
// meantime and the fresh copy is discarded.
func (s *Serializer) relocateBlock(ctx context.Context, r blockRelocation) error {
	buffer := s.bufferPool.allocate()
	defer s.bufferPool.release(buffer)
	n, err := s.ReadBlock(ctx, r.token, buffer, s.gcAccount)
	if err != nil {
		return util.StatusWrap(err, "Failed to read live block")
	}

	writeDone := make(chan error, 1)
	newTokens, err := s.BlockWrites(ctx, []BlockWrite{{
		BlockID: r.blockID,
		Data:    buffer[:n],
	}}, s.gcAccount, func(err error) {
		writeDone <- err
	})
	if err != nil {
		return util.StatusWrap(err, "Failed to start writing the copy")
	}
	newToken := newTokens[0]
	if err := <-writeDone; err != nil {
		newToken.Release()
		return util.StatusWrap(err, "Failed to write the copy")
	}

	s.journalLock.RLock()
	s.lock.Lock()
	entry, ok := s.index.entries[r.blockID]
	if s.closed || !ok || entry.deleted || entry.timestamp != r.timestamp {
		s.lock.Unlock()
		s.journalLock.RUnlock()
		newToken.Release()
		garbageCollectorRelocations.WithLabelValues(s.storeName, "superseded").Inc()
		return nil
	}
	record := IndexRecord{
		BlockID:          r.blockID,
		Timestamp:        r.timestamp,
		Extent:           newToken.extent,
		OffsetBytes:      newToken.offsetBytes,
		PayloadSizeBytes: newToken.payloadSizeBytes,
		Relocated:        true,
	}
	sequence := s.journalSequence
	s.journalSequence++
	s.lock.Unlock()

	if err := s.scheduler.Submit(ctx, s.gcAccount, indexRecordSizeBytes, func() error {
		return s.journal.AppendBatch([]IndexRecord{record}, sequence)
	}); err != nil {
		s.journalLock.RUnlock()
		newToken.Release()
		return util.StatusWrap(err, "Failed to append relocation to journal")
	}
	s.journalSizeBytes.Set(float64(s.journal.SizeBytes()))

	s.lock.Lock()
	applied := s.index.applyRelocationLocked(r.blockID, r.timestamp, newToken.Acquire())
	if !applied {
		newToken.releaseLocked()
	}
	s.lock.Unlock()
	s.journalLock.RUnlock()
	newToken.Release()
	if applied {
		garbageCollectorRelocations.WithLabelValues(s.storeName, "relocated").Inc()
	} else {
		garbageCollectorRelocations.WithLabelValues(s.storeName, "superseded").Inc()
	}
	return nil
}
