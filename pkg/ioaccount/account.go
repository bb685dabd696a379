package ioaccount

import (
	"sync/atomic"
)

// Account is a scheduling bucket for I/O requests. Every request that
// is submitted to a Scheduler is tagged with an Account. Accounts with
// a higher weight receive a proportionally larger share of the
// available I/O capacity when the scheduler is contended.
//
// Accounts are created through Scheduler.NewAccount() and must be
// closed by the caller once the workload they represent has finished.
type Account struct {
	scheduler *WeightedFairScheduler
	weight    uint32

	// Virtual finish tag of the last request submitted through this
	// account. Guarded by scheduler.lock.
	lastFinishTag float64

	outstanding atomic.Int64
}

// Weight returns the priority weight the account was created with.
func (a *Account) Weight() uint32 {
	return a.weight
}

// Outstanding returns the number of requests submitted through this
// account that have not completed yet.
func (a *Account) Outstanding() int64 {
	return a.outstanding.Load()
}

// Close the account. It is invalid to submit further requests through
// the account, or to close it while requests are still outstanding.
func (a *Account) Close() {
	if a.outstanding.Load() != 0 {
		panic("Attempted to close an I/O account with outstanding requests")
	}
	a.scheduler.accountsActive.Dec()
	a.scheduler = nil
}
