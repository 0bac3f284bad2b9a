// Package metrics provides Prometheus metrics for slotmap.
package metrics

import (
	"time"
)

// Result constants for metric labels
const (
	ResultSuccess           = "success"
	ResultFailure           = "failure"
	ResultAlreadyClaimed    = "already_claimed"
	ResultInvalidSlot       = "invalid_slot"
	ResultNotLive           = "not_live"
	ResultProvisioningError = "provisioning_error"
)

// Timer is a helper for measuring operation duration
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting from now
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration returns the duration since the timer was created
func (t *Timer) ObserveDuration() time.Duration {
	return time.Since(t.start)
}

// RecordClaim records a claim attempt
//
// Parameters:
//   - result: One of the Result* constants
//   - duration: The duration of the check-and-set
func RecordClaim(result string, duration time.Duration) {
	ClaimsTotal.WithLabelValues(result).Inc()
	ClaimDuration.Observe(duration.Seconds())
}

// SetIndexStats sets the index gauges
//
// Parameters:
//   - capacityBits: Number of addressable slots
//   - claimed: Number of claimed slots
func SetIndexStats(capacityBits, claimed uint64) {
	IndexCapacityBits.Set(float64(capacityBits))
	IndexClaimedSlots.Set(float64(claimed))
}

// RecordIndexGrowth counts one growth of the index
func RecordIndexGrowth() {
	IndexGrowthTotal.Inc()
}

// RecordEnrichment records an enrichment run
func RecordEnrichment(err error) {
	EnrichmentTotal.WithLabelValues(resultOf(err)).Inc()
}

// RecordStoreWrite records a write to the durable region
//
// Parameters:
//   - backend: The store backend (file/badger)
//   - err: The error from the write (nil for success)
func RecordStoreWrite(backend string, err error) {
	StoreWriteTotal.WithLabelValues(backend, resultOf(err)).Inc()
}

func resultOf(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
