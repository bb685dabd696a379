package serializer

import (
	"sync"

	"github.com/tessera-db/tessera/pkg/extentdevice"
	"github.com/tessera-db/tessera/pkg/random"
	"github.com/tessera-db/tessera/pkg/util"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	extentTableMetrics sync.Once

	extentTableExtents = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tessera",
			Subsystem: "serializer",
			Name:      "extents",
			Help:      "Number of extents in the store, partitioned by state.",
		},
		[]string{"store", "state"})
	extentTableLiveBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tessera",
			Subsystem: "serializer",
			Name:      "extents_live_bytes",
			Help:      "Total number of bytes occupied by live block slots.",
		},
		[]string{"store"})
	extentTableReclaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tessera",
			Subsystem: "serializer",
			Name:      "extents_reclaimed_total",
			Help:      "Number of extents whose space was reclaimed for reuse.",
		},
		[]string{"store"})
)

type extentState int

const (
	// extentStateReserved applies to extent zero, which holds the
	// store header and never carries block slots.
	extentStateReserved extentState = iota
	extentStateFree
	extentStateActive
	extentStateYoung
	extentStateOld
	extentStateCompacting
)

func (s extentState) String() string {
	switch s {
	case extentStateReserved:
		return "Reserved"
	case extentStateFree:
		return "Free"
	case extentStateActive:
		return "Active"
	case extentStateYoung:
		return "Young"
	case extentStateOld:
		return "Old"
	case extentStateCompacting:
		return "Compacting"
	}
	panic("Unknown extent state")
}

type extentInfo struct {
	state            extentState
	writeOffsetBytes int64
	liveBytes        int64
	pendingWrites    int
	filledEpoch      uint64
}

// extentTable keeps track of the lifecycle of every extent in the
// store. All of its methods must be called while holding the
// serializer's bookkeeping lock, except for the device growth that
// happens as part of slot allocation, which is a rare metadata
// operation.
type extentTable struct {
	device              extentdevice.ExtentDevice
	extentSizeBytes     int64
	youngExtentEpochLag uint64
	// randomGenerator is only used while holding the serializer's
	// bookkeeping lock, matching the generator's contract.
	randomGenerator random.SingleThreadedGenerator

	extents      []extentInfo
	freeExtents  []uint32
	activeExtent uint32
	hasActive    bool
	young        youngExtentQueue

	extentsGauge   *prometheus.GaugeVec
	liveBytesGauge prometheus.Gauge
	reclaimedTotal prometheus.Counter
	storeName      string
}

func newExtentTable(storeName string, device extentdevice.ExtentDevice, youngExtentEpochLag uint64) *extentTable {
	extentTableMetrics.Do(func() {
		prometheus.MustRegister(extentTableExtents)
		prometheus.MustRegister(extentTableLiveBytes)
		prometheus.MustRegister(extentTableReclaimedTotal)
	})

	t := &extentTable{
		device:              device,
		extentSizeBytes:     device.ExtentSizeBytes(),
		youngExtentEpochLag: youngExtentEpochLag,
		randomGenerator:     random.NewFastSingleThreadedGenerator(),

		extents: make([]extentInfo, device.ExtentCount()),

		extentsGauge:   extentTableExtents,
		liveBytesGauge: extentTableLiveBytes.WithLabelValues(storeName),
		reclaimedTotal: extentTableReclaimedTotal.WithLabelValues(storeName),
		storeName:      storeName,
	}
	t.extents[0].state = extentStateReserved
	for i := 1; i < len(t.extents); i++ {
		t.extents[i].state = extentStateFree
	}
	for state := extentStateReserved; state <= extentStateCompacting; state++ {
		t.extentsGauge.WithLabelValues(storeName, state.String()).Set(0)
	}
	t.extentsGauge.WithLabelValues(storeName, extentStateReserved.String()).Set(1)
	t.extentsGauge.WithLabelValues(storeName, extentStateFree.String()).Set(float64(len(t.extents) - 1))
	return t
}

func (t *extentTable) setStateLocked(extent uint32, state extentState) {
	info := &t.extents[extent]
	t.extentsGauge.WithLabelValues(t.storeName, info.state.String()).Dec()
	t.extentsGauge.WithLabelValues(t.storeName, state.String()).Inc()
	info.state = state
}

// recoverSlotLocked registers a slot that the index refers to while the
// store is being reopened. Every extent that carries at least one live
// slot comes back in the Old state, as any writes that were still in
// flight when the previous process terminated did not make it into the
// index and are dead.
func (t *extentTable) recoverSlotLocked(extent uint32, offsetBytes, slotSizeBytes int64) {
	info := &t.extents[extent]
	if info.state != extentStateOld {
		t.setStateLocked(extent, extentStateOld)
	}
	info.liveBytes += slotSizeBytes
	t.liveBytesGauge.Add(float64(slotSizeBytes))
	if end := offsetBytes + slotSizeBytes; end > info.writeOffsetBytes {
		info.writeOffsetBytes = end
	}
}

// finishRecoveryLocked places all extents that did not receive any
// recovered slots on the free list.
func (t *extentTable) finishRecoveryLocked() {
	for i := len(t.extents) - 1; i >= 1; i-- {
		if t.extents[i].state == extentStateFree {
			t.freeExtents = append(t.freeExtents, uint32(i))
		}
	}
}

func (t *extentTable) acquireFreeExtentLocked() (uint32, error) {
	if n := len(t.freeExtents); n > 0 {
		extent := t.freeExtents[n-1]
		t.freeExtents = t.freeExtents[:n-1]
		return extent, nil
	}
	oldCount := uint32(len(t.extents))
	growth := oldCount / 4
	if growth < 1 {
		growth = 1
	}
	newCount := oldCount + growth
	if err := t.device.Extend(growth); err != nil {
		return 0, util.StatusWrap(err, "Failed to grow extent device")
	}
	for i := oldCount; i < newCount; i++ {
		t.extents = append(t.extents, extentInfo{state: extentStateFree})
	}
	t.extentsGauge.WithLabelValues(t.storeName, extentStateFree.String()).Add(float64(growth))
	for i := newCount - 1; i > oldCount; i-- {
		t.freeExtents = append(t.freeExtents, i)
	}
	return oldCount, nil
}

// allocateSlotLocked reserves space for a slot in the active extent,
// rotating in a fresh extent when the active one has insufficient
// space. A replacement extent is acquired before the rotation takes
// place, so that allocation failures leave the extent lifecycle
// unchanged.
func (t *extentTable) allocateSlotLocked(slotSizeBytes int64, currentEpoch uint64) (uint32, int64, error) {
	if !t.hasActive || t.extentSizeBytes-t.extents[t.activeExtent].writeOffsetBytes < slotSizeBytes {
		replacement, err := t.acquireFreeExtentLocked()
		if err != nil {
			return 0, 0, util.StatusWrap(err, "Failed to acquire a replacement extent")
		}
		if t.hasActive {
			t.setStateLocked(t.activeExtent, extentStateYoung)
			t.extents[t.activeExtent].filledEpoch = currentEpoch
			t.young.push(t.activeExtent)
		}
		t.activeExtent = replacement
		t.hasActive = true
		t.setStateLocked(replacement, extentStateActive)
		info := &t.extents[replacement]
		info.writeOffsetBytes = 0
		info.liveBytes = 0
	}

	info := &t.extents[t.activeExtent]
	offsetBytes := info.writeOffsetBytes
	info.writeOffsetBytes += slotSizeBytes
	info.liveBytes += slotSizeBytes
	info.pendingWrites++
	t.liveBytesGauge.Add(float64(slotSizeBytes))
	return t.activeExtent, offsetBytes, nil
}

// writeFinishedLocked records that a device write targeting an extent
// has completed, successfully or not.
func (t *extentTable) writeFinishedLocked(extent uint32, currentEpoch uint64) {
	info := &t.extents[extent]
	info.pendingWrites--
	if info.pendingWrites < 0 {
		panic("Extent write completion count went negative")
	}
	t.promoteYoungLocked(currentEpoch)
	t.maybeReclaimLocked(extent)
}

// releaseSlotLocked returns the space held by a slot whose block token
// has dropped its last reference.
func (t *extentTable) releaseSlotLocked(extent uint32, slotSizeBytes int64) {
	info := &t.extents[extent]
	info.liveBytes -= slotSizeBytes
	if info.liveBytes < 0 {
		panic("Extent live byte count went negative")
	}
	t.liveBytesGauge.Sub(float64(slotSizeBytes))
	t.maybeReclaimLocked(extent)
}

// promoteYoungLocked moves extents at the head of the young queue to
// the Old state once enough index write epochs have passed since they
// filled up and no writes against them remain in flight.
func (t *extentTable) promoteYoungLocked(currentEpoch uint64) {
	for !t.young.empty() {
		extent := t.young.peek()
		info := &t.extents[extent]
		if info.filledEpoch+t.youngExtentEpochLag > currentEpoch || info.pendingWrites > 0 {
			break
		}
		t.young.pop()
		t.setStateLocked(extent, extentStateOld)
		t.maybeReclaimLocked(extent)
	}
}

func (t *extentTable) maybeReclaimLocked(extent uint32) {
	info := &t.extents[extent]
	if info.state == extentStateOld && info.liveBytes == 0 && info.pendingWrites == 0 {
		t.setStateLocked(extent, extentStateFree)
		info.writeOffsetBytes = 0
		t.freeExtents = append(t.freeExtents, extent)
		t.reclaimedTotal.Inc()
	}
}

// pickCompactionCandidateLocked selects the Old extent with the lowest
// amount of live data whose liveness fraction is below the configured
// threshold, and marks it as being compacted so that it is not picked
// twice. Extents in the skip set are ignored. Ties are broken randomly
// so that extents with identical liveness are compacted in no fixed
// order.
func (t *extentTable) pickCompactionCandidateLocked(livenessThreshold float64, skip map[uint32]bool) (uint32, bool) {
	best := uint32(0)
	bestLiveBytes := int64(0)
	tied := 0
	for i := 1; i < len(t.extents); i++ {
		info := &t.extents[i]
		if info.state != extentStateOld || info.liveBytes == 0 || skip[uint32(i)] {
			continue
		}
		if float64(info.liveBytes)/float64(t.extentSizeBytes) >= livenessThreshold {
			continue
		}
		if tied == 0 || info.liveBytes < bestLiveBytes {
			best = uint32(i)
			bestLiveBytes = info.liveBytes
			tied = 1
		} else if info.liveBytes == bestLiveBytes {
			tied++
			if t.randomGenerator.IntN(tied) == 0 {
				best = uint32(i)
			}
		}
	}
	if tied == 0 {
		return 0, false
	}
	t.setStateLocked(best, extentStateCompacting)
	return best, true
}

// compactionFinishedLocked returns an extent to the Old state after a
// compaction attempt, reclaiming it right away if it ended up empty.
func (t *extentTable) compactionFinishedLocked(extent uint32) {
	t.setStateLocked(extent, extentStateOld)
	t.maybeReclaimLocked(extent)
}
