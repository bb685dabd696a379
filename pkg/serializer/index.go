package serializer

// indexEntry is the in-memory state of a single block identifier.
// Tombstones are retained after deletion, so that writes carrying a
// timestamp no newer than the deletion remain no-ops.
type indexEntry struct {
	timestamp Timestamp
	deleted   bool
	token     *BlockToken
}

// blockIndex is the authoritative in-memory mapping from block
// identifiers to block tokens. Conflicts are resolved purely by
// timestamp: an operation only takes effect if its timestamp is
// strictly newer than the entry it replaces. All methods must be called
// while holding the serializer's bookkeeping lock.
type blockIndex struct {
	entries map[BlockID]*indexEntry
}

func newBlockIndex() *blockIndex {
	return &blockIndex{
		entries: map[BlockID]*indexEntry{},
	}
}

// getLocked returns the token of a live entry, without acquiring an
// additional reference.
func (bi *blockIndex) getLocked(blockID BlockID) (*BlockToken, bool) {
	entry, ok := bi.entries[blockID]
	if !ok || entry.deleted {
		return nil, false
	}
	return entry.token, true
}

// applyWriteLocked makes the index take ownership of a reference to the
// provided token, releasing the reference to the token it replaces. It
// returns false if an entry with an equal or newer timestamp is already
// present, in which case ownership of the reference remains with the
// caller.
func (bi *blockIndex) applyWriteLocked(blockID BlockID, timestamp Timestamp, token *BlockToken) bool {
	entry, ok := bi.entries[blockID]
	if !ok {
		bi.entries[blockID] = &indexEntry{
			timestamp: timestamp,
			token:     token,
		}
		return true
	}
	if timestamp <= entry.timestamp {
		return false
	}
	previous := entry.token
	entry.timestamp = timestamp
	entry.deleted = false
	entry.token = token
	if previous != nil {
		previous.releaseLocked()
	}
	return true
}

// applyDeleteLocked replaces an entry by a tombstone, releasing the
// index's reference to its token. It returns false if an entry with an
// equal or newer timestamp is already present.
func (bi *blockIndex) applyDeleteLocked(blockID BlockID, timestamp Timestamp) bool {
	entry, ok := bi.entries[blockID]
	if !ok {
		bi.entries[blockID] = &indexEntry{
			timestamp: timestamp,
			deleted:   true,
		}
		return true
	}
	if timestamp <= entry.timestamp {
		return false
	}
	previous := entry.token
	entry.timestamp = timestamp
	entry.deleted = true
	entry.token = nil
	if previous != nil {
		previous.releaseLocked()
	}
	return true
}

// applyRelocationLocked swaps the entry's token for one referring to a
// copy of the same block at a different location, keeping the entry's
// timestamp intact. It only takes effect if the entry still carries the
// exact timestamp that was observed when relocation started, so that a
// deletion or overwrite that raced with the copy wins unconditionally.
func (bi *blockIndex) applyRelocationLocked(blockID BlockID, timestamp Timestamp, token *BlockToken) bool {
	entry, ok := bi.entries[blockID]
	if !ok || entry.deleted || entry.timestamp != timestamp {
		return false
	}
	previous := entry.token
	entry.token = token
	previous.releaseLocked()
	return true
}

// snapshotLocked serializes the full contents of the index, including
// tombstones, for inclusion in a checkpoint.
func (bi *blockIndex) snapshotLocked() []IndexRecord {
	records := make([]IndexRecord, 0, len(bi.entries))
	for blockID, entry := range bi.entries {
		record := IndexRecord{
			BlockID:   blockID,
			Timestamp: entry.timestamp,
			Deleted:   entry.deleted,
		}
		if !entry.deleted {
			record.Extent = entry.token.extent
			record.OffsetBytes = entry.token.offsetBytes
			record.PayloadSizeBytes = entry.token.payloadSizeBytes
		}
		records = append(records, record)
	}
	return records
}

// applyRecordToRecoveryState folds a single persisted index record into
// the recovery state, using the same conflict resolution rules that
// were in effect when the record was first applied.
func applyRecordToRecoveryState(state map[BlockID]IndexRecord, record IndexRecord) {
	previous, ok := state[record.BlockID]
	if record.Relocated {
		if !ok || previous.Deleted || previous.Timestamp != record.Timestamp {
			return
		}
		state[record.BlockID] = record
		return
	}
	if ok && record.Timestamp <= previous.Timestamp {
		return
	}
	state[record.BlockID] = record
}
