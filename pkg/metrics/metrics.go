// Package metrics provides Prometheus metrics for slotmap.
//
// This package exposes metrics for monitoring the slot index:
// - Claim outcomes and latency
// - Index capacity, claimed slots and growth events
// - Enrichment outcomes
// - Store write outcomes per backend
//
// Metrics are registered on the package Registry, which the HTTP server
// exposes at /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace is the Prometheus metrics namespace
	Namespace = "slotmap"

	// Subsystem names for different metric categories
	SubsystemAllocator  = "allocator"
	SubsystemIndex      = "index"
	SubsystemEnrichment = "enrichment"
	SubsystemStore      = "store"
)

var (
	// registerOnce ensures metrics are registered only once
	registerOnce sync.Once

	// Registry holds every slotmap collector plus the Go and process collectors
	Registry = prometheus.NewRegistry()

	// ---- Allocator Metrics ----

	// ClaimsTotal counts claim attempts
	// Labels: result (success/already_claimed/invalid_slot/not_live/provisioning_error/failure)
	ClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemAllocator,
			Name:      "claims_total",
			Help:      "Total number of slot claim attempts by result",
		},
		[]string{"result"},
	)

	// ClaimDuration measures the time taken by the check-and-set of a claim
	ClaimDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemAllocator,
			Name:      "claim_duration_seconds",
			Help:      "Time taken to claim a slot in seconds",
			Buckets:   []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)

	// ---- Index Metrics ----

	// IndexCapacityBits tracks the number of addressable slots
	IndexCapacityBits = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemIndex,
			Name:      "capacity_bits",
			Help:      "Number of slots the presence index can address",
		},
	)

	// IndexClaimedSlots tracks the number of claimed slots
	IndexClaimedSlots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemIndex,
			Name:      "claimed_slots",
			Help:      "Number of claimed slots in the presence index",
		},
	)

	// IndexGrowthTotal counts provisioning calls that appended blocks
	IndexGrowthTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemIndex,
			Name:      "growth_total",
			Help:      "Total number of times the presence index grew",
		},
	)

	// ---- Enrichment Metrics ----

	// EnrichmentTotal counts enrichment runs
	// Labels: result (success/failure)
	EnrichmentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemEnrichment,
			Name:      "total",
			Help:      "Total number of enrichment runs by result",
		},
		[]string{"result"},
	)

	// ---- Store Metrics ----

	// StoreWriteTotal counts writes to the durable region
	// Labels: backend (file/badger), result (success/failure)
	StoreWriteTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemStore,
			Name:      "write_total",
			Help:      "Total number of slot index writes by backend and result",
		},
		[]string{"backend", "result"},
	)
)

// Register registers all metrics with the package Registry.
// This function is safe to call multiple times; metrics will only be registered once.
func Register() {
	registerOnce.Do(func() {
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		// Allocator metrics
		Registry.MustRegister(ClaimsTotal)
		Registry.MustRegister(ClaimDuration)

		// Index metrics
		Registry.MustRegister(IndexCapacityBits)
		Registry.MustRegister(IndexClaimedSlots)
		Registry.MustRegister(IndexGrowthTotal)

		// Enrichment metrics
		Registry.MustRegister(EnrichmentTotal)

		// Store metrics
		Registry.MustRegister(StoreWriteTotal)
	})
}
