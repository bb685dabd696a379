package ioaccount

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tessera-db/tessera/pkg/util"
)

var (
	weightedFairSchedulerPrometheusMetrics sync.Once

	weightedFairSchedulerRequestsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tessera",
			Subsystem: "ioaccount",
			Name:      "weighted_fair_scheduler_requests_submitted_total",
			Help:      "Number of I/O requests submitted to WeightedFairScheduler",
		},
		[]string{"store"})
	weightedFairSchedulerRequestsQueued = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tessera",
			Subsystem: "ioaccount",
			Name:      "weighted_fair_scheduler_requests_queued",
			Help:      "Number of I/O requests waiting for admission by WeightedFairScheduler",
		},
		[]string{"store"})
	weightedFairSchedulerAccountsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tessera",
			Subsystem: "ioaccount",
			Name:      "weighted_fair_scheduler_accounts_active",
			Help:      "Number of I/O accounts that have been created, but not closed",
		},
		[]string{"store"})
	weightedFairSchedulerTaskDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tessera",
			Subsystem: "ioaccount",
			Name:      "weighted_fair_scheduler_task_duration_seconds",
			Help:      "Time spent executing admitted I/O requests",
			Buckets:   util.DecimalExponentialBuckets(-3, 6, 2),
		},
		[]string{"store"})
)

type waitingRequest struct {
	startTag  float64
	finishTag float64
	sequence  uint64
	heapIndex int

	// Closed by the scheduler once the request is admitted. A
	// request that is removed due to context cancelation before
	// admission never has its channel closed.
	admitted chan struct{}
}

type requestHeap []*waitingRequest

func (h requestHeap) Len() int {
	return len(h)
}

func (h requestHeap) Less(i, j int) bool {
	if h[i].finishTag != h[j].finishTag {
		return h[i].finishTag < h[j].finishTag
	}
	return h[i].sequence < h[j].sequence
}

func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *requestHeap) Push(x any) {
	r := x.(*waitingRequest)
	r.heapIndex = len(*h)
	*h = append(*h, r)
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.heapIndex = -1
	*h = old[:n-1]
	return r
}

// WeightedFairScheduler admits I/O requests using start-time fair
// queueing. Each request carries a cost (its size in bytes) and is
// tagged with an Account. The scheduler maintains a virtual clock;
// a request's virtual finish time advances the submitting account's
// position by cost divided by the account's weight. When more requests
// are pending than the configured concurrency allows, the request with
// the lowest virtual finish time is admitted first.
//
// The result is that under sustained contention, accounts obtain
// throughput proportional to their weights, while an idle account that
// starts submitting again does not build up unbounded credit.
type WeightedFairScheduler struct {
	concurrency int

	lock         sync.Mutex
	virtualTime  float64
	executing    int
	nextSequence uint64
	waiters      requestHeap

	requestsSubmitted prometheus.Counter
	requestsQueued    prometheus.Gauge
	accountsActive    prometheus.Gauge
	taskDuration      prometheus.Observer
}

// NewWeightedFairScheduler creates a WeightedFairScheduler that allows
// up to the given number of requests to execute in parallel.
func NewWeightedFairScheduler(concurrency int, storeName string) *WeightedFairScheduler {
	weightedFairSchedulerPrometheusMetrics.Do(func() {
		prometheus.MustRegister(weightedFairSchedulerRequestsSubmitted)
		prometheus.MustRegister(weightedFairSchedulerRequestsQueued)
		prometheus.MustRegister(weightedFairSchedulerAccountsActive)
		prometheus.MustRegister(weightedFairSchedulerTaskDurationSeconds)
	})

	return &WeightedFairScheduler{
		concurrency: concurrency,

		requestsSubmitted: weightedFairSchedulerRequestsSubmitted.WithLabelValues(storeName),
		requestsQueued:    weightedFairSchedulerRequestsQueued.WithLabelValues(storeName),
		accountsActive:    weightedFairSchedulerAccountsActive.WithLabelValues(storeName),
		taskDuration:      weightedFairSchedulerTaskDurationSeconds.WithLabelValues(storeName),
	}
}

// NewAccount creates a scheduling account with a given priority weight.
// Weights must be positive; a zero weight is treated as one.
func (s *WeightedFairScheduler) NewAccount(weight uint32) *Account {
	if weight < 1 {
		weight = 1
	}
	s.accountsActive.Inc()
	return &Account{
		scheduler: s,
		weight:    weight,
	}
}

// Submit a request for execution. Submit blocks until the scheduler
// admits the request, runs task in the calling goroutine, and returns
// the task's error. If the context is canceled before admission, the
// task is not run and the context's error is returned.
func (s *WeightedFairScheduler) Submit(ctx context.Context, account *Account, costBytes int64, task func() error) error {
	if ctx.Err() != nil {
		return util.StatusFromContext(ctx)
	}
	s.requestsSubmitted.Inc()
	account.outstanding.Add(1)
	defer account.outstanding.Add(-1)

	s.lock.Lock()
	startTag := s.virtualTime
	if account.lastFinishTag > startTag {
		startTag = account.lastFinishTag
	}
	finishTag := startTag + float64(costBytes)/float64(account.weight)
	account.lastFinishTag = finishTag

	if s.executing < s.concurrency && len(s.waiters) == 0 {
		// Uncontended; admit immediately.
		s.executing++
		s.virtualTime = startTag
		s.lock.Unlock()
	} else {
		r := &waitingRequest{
			startTag:  startTag,
			finishTag: finishTag,
			sequence:  s.nextSequence,
			admitted:  make(chan struct{}),
		}
		s.nextSequence++
		heap.Push(&s.waiters, r)
		s.requestsQueued.Inc()
		s.lock.Unlock()

		select {
		case <-ctx.Done():
			s.lock.Lock()
			if r.heapIndex >= 0 {
				// Not admitted yet; withdraw the request.
				heap.Remove(&s.waiters, r.heapIndex)
				s.requestsQueued.Dec()
				s.lock.Unlock()
				return util.StatusFromContext(ctx)
			}
			// Admission raced with cancelation. The
			// execution slot is already ours, so proceed
			// and run the task regardless.
			s.lock.Unlock()
		case <-r.admitted:
		}
	}

	timeStart := time.Now()
	err := task()
	s.taskDuration.Observe(time.Since(timeStart).Seconds())

	s.lock.Lock()
	s.executing--
	s.admitNextLocked()
	s.lock.Unlock()
	return err
}

// admitNextLocked hands the freed execution slot to the waiting request
// with the lowest virtual finish time, if any.
func (s *WeightedFairScheduler) admitNextLocked() {
	if s.executing < s.concurrency && len(s.waiters) > 0 {
		r := heap.Pop(&s.waiters).(*waitingRequest)
		s.requestsQueued.Dec()
		s.executing++
		if r.startTag > s.virtualTime {
			s.virtualTime = r.startTag
		}
		close(r.admitted)
	}
}
