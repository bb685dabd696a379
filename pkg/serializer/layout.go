package serializer

import (
	"encoding/binary"

	"github.com/google/uuid"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// BlockID is the stable logical name of a block, chosen by the caller.
// A block identifier may be rebound to new contents through index
// writes, and may be reused after a confirmed deletion.
type BlockID uint64

// Timestamp orders index writes for the same block identifier. Within
// one serializer instance, timestamps assigned by the serializer are
// strictly monotonic. An index write whose timestamp is not strictly
// greater than the one currently recorded for a block is a no-op.
type Timestamp uint64

// On-disk structures. All integers are stored in little-endian byte
// order. Checksums are seeded FNV-1a hashes, following the same scheme
// at every level: corrupted or torn structures fail checksum validation
// and are discarded during recovery.
const (
	storeHeaderMagic   = 0x44485354 // "TSHD"
	slotHeaderMagic    = 0x544C5354 // "TSLT"
	journalBatchMagic  = 0x424A5354 // "TSJB"
	checkpointMagic    = 0x50435354 // "TSCP"
	storeFormatVersion = 1

	// storeHeaderSizeBytes is the size of the serialized store
	// header at the start of extent 0:
	//
	// - Magic                  4 bytes
	// - Format version         4 bytes
	// - Store UUID            16 bytes
	// - Maximum block size     8 bytes
	// - Extent size            8 bytes
	// - Slot alignment         8 bytes
	// - Checksum               8 bytes
	//                  Total: 56 bytes
	storeHeaderSizeBytes = 4 + 4 + 16 + 8 + 8 + 8 + 8

	// slotHeaderSizeBytes is the size of the metadata stored in
	// front of every block payload:
	//
	// - Magic                  4 bytes
	// - Block ID               8 bytes
	// - Payload length         4 bytes
	// - Write sequence         8 bytes
	// - Checksum               8 bytes
	//                  Total: 32 bytes
	slotHeaderSizeBytes = 4 + 8 + 4 + 8 + 8

	// indexRecordSizeBytes is the size of one serialized index
	// record in the journal and checkpoint files:
	//
	// - Block ID               8 bytes
	// - Timestamp              8 bytes
	// - Extent                 4 bytes
	// - Slot offset            8 bytes
	// - Payload length         4 bytes
	// - Flags                  1 byte
	//                  Total: 33 bytes
	indexRecordSizeBytes = 8 + 8 + 4 + 8 + 4 + 1

	indexRecordFlagDeleted   = 1 << 0
	indexRecordFlagRelocated = 1 << 1
)

// fnv1a computes a seeded FNV-1a hash over a byte slice.
func fnv1a(seed uint64, p []byte) uint64 {
	h := seed
	for _, b := range p {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return h
}

// alignSlotSize computes the amount of extent space consumed by a block
// payload of a given size, including the slot header and alignment
// padding.
func alignSlotSize(payloadSizeBytes, alignmentBytes int64) int64 {
	return (slotHeaderSizeBytes + payloadSizeBytes + alignmentBytes - 1) / alignmentBytes * alignmentBytes
}

// storeHeader identifies a store on its data device. It is written to
// the start of extent 0 by Create() and validated against the
// superblock on every open, so that a serializer can never be pointed
// at the data device of a different store.
type storeHeader struct {
	storeUUID          uuid.UUID
	maxBlockSizeBytes  int64
	extentSizeBytes    int64
	slotAlignmentBytes int64
}

func (h *storeHeader) marshal() []byte {
	b := make([]byte, storeHeaderSizeBytes)
	binary.LittleEndian.PutUint32(b, storeHeaderMagic)
	binary.LittleEndian.PutUint32(b[4:], storeFormatVersion)
	copy(b[8:], h.storeUUID[:])
	binary.LittleEndian.PutUint64(b[24:], uint64(h.maxBlockSizeBytes))
	binary.LittleEndian.PutUint64(b[32:], uint64(h.extentSizeBytes))
	binary.LittleEndian.PutUint64(b[40:], uint64(h.slotAlignmentBytes))
	binary.LittleEndian.PutUint64(b[48:], fnv1a(storeHeaderMagic, b[:48]))
	return b
}

func unmarshalStoreHeader(b []byte) (storeHeader, error) {
	if len(b) < storeHeaderSizeBytes {
		return storeHeader{}, status.Error(codes.Internal, "Store header is truncated")
	}
	if binary.LittleEndian.Uint32(b) != storeHeaderMagic {
		return storeHeader{}, status.Error(codes.Internal, "Store header has an invalid magic number")
	}
	if version := binary.LittleEndian.Uint32(b[4:]); version != storeFormatVersion {
		return storeHeader{}, status.Errorf(codes.Internal, "Store header has unsupported format version %d", version)
	}
	if fnv1a(storeHeaderMagic, b[:48]) != binary.LittleEndian.Uint64(b[48:]) {
		return storeHeader{}, status.Error(codes.Internal, "Store header has an invalid checksum")
	}
	var h storeHeader
	copy(h.storeUUID[:], b[8:])
	h.maxBlockSizeBytes = int64(binary.LittleEndian.Uint64(b[24:]))
	h.extentSizeBytes = int64(binary.LittleEndian.Uint64(b[32:]))
	h.slotAlignmentBytes = int64(binary.LittleEndian.Uint64(b[40:]))
	return h, nil
}

// slotHeader is stored in front of every block payload in a data
// extent. It allows the live or garbage status of a slot to be
// determined after a crash, and guards reads against misdirected I/O.
type slotHeader struct {
	blockID          BlockID
	payloadSizeBytes int64
	writeSequence    uint64
}

func (h *slotHeader) marshal(seed uint64) [slotHeaderSizeBytes]byte {
	var b [slotHeaderSizeBytes]byte
	binary.LittleEndian.PutUint32(b[:], slotHeaderMagic)
	binary.LittleEndian.PutUint64(b[4:], uint64(h.blockID))
	binary.LittleEndian.PutUint32(b[12:], uint32(h.payloadSizeBytes))
	binary.LittleEndian.PutUint64(b[16:], h.writeSequence)
	binary.LittleEndian.PutUint64(b[24:], fnv1a(seed, b[:24]))
	return b
}

func unmarshalSlotHeader(b []byte, seed uint64) (slotHeader, error) {
	if binary.LittleEndian.Uint32(b) != slotHeaderMagic {
		return slotHeader{}, status.Error(codes.DataLoss, "Block slot has an invalid magic number")
	}
	if fnv1a(seed, b[:24]) != binary.LittleEndian.Uint64(b[24:]) {
		return slotHeader{}, status.Error(codes.DataLoss, "Block slot has an invalid checksum")
	}
	return slotHeader{
		blockID:          BlockID(binary.LittleEndian.Uint64(b[4:])),
		payloadSizeBytes: int64(binary.LittleEndian.Uint32(b[12:])),
		writeSequence:    binary.LittleEndian.Uint64(b[16:]),
	}, nil
}

// IndexRecord is the serialized form of one index binding, as stored in
// the index journal and checkpoint. A record either binds a block
// identifier to a slot in a data extent, or marks it as deleted.
// Records written on behalf of garbage collection carry the relocated
// flag, which makes them apply only against an entry that still has
// the exact same timestamp.
type IndexRecord struct {
	BlockID          BlockID
	Timestamp        Timestamp
	Extent           uint32
	OffsetBytes      int64
	PayloadSizeBytes int64
	Deleted          bool
	Relocated        bool
}

func (r *IndexRecord) marshalTo(b []byte) {
	binary.LittleEndian.PutUint64(b, uint64(r.BlockID))
	binary.LittleEndian.PutUint64(b[8:], uint64(r.Timestamp))
	binary.LittleEndian.PutUint32(b[16:], r.Extent)
	binary.LittleEndian.PutUint64(b[20:], uint64(r.OffsetBytes))
	binary.LittleEndian.PutUint32(b[28:], uint32(r.PayloadSizeBytes))
	flags := byte(0)
	if r.Deleted {
		flags |= indexRecordFlagDeleted
	}
	if r.Relocated {
		flags |= indexRecordFlagRelocated
	}
	b[32] = flags
}

func unmarshalIndexRecord(b []byte) IndexRecord {
	return IndexRecord{
		BlockID:          BlockID(binary.LittleEndian.Uint64(b)),
		Timestamp:        Timestamp(binary.LittleEndian.Uint64(b[8:])),
		Extent:           binary.LittleEndian.Uint32(b[16:]),
		OffsetBytes:      int64(binary.LittleEndian.Uint64(b[20:])),
		PayloadSizeBytes: int64(binary.LittleEndian.Uint32(b[28:])),
		Deleted:          b[32]&indexRecordFlagDeleted != 0,
		Relocated:        b[32]&indexRecordFlagRelocated != 0,
	}
}

func marshalIndexRecords(records []IndexRecord) []byte {
	b := make([]byte, len(records)*indexRecordSizeBytes)
	for i := range records {
		records[i].marshalTo(b[i*indexRecordSizeBytes:])
	}
	return b
}

func unmarshalIndexRecords(b []byte) []IndexRecord {
	records := make([]IndexRecord, len(b)/indexRecordSizeBytes)
	for i := range records {
		records[i] = unmarshalIndexRecord(b[i*indexRecordSizeBytes:])
	}
	return records
}
