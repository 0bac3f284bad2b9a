// Package claims ties the slot allocator to its durable store, the
// enrichment collaborator, metrics and logs.
//
// A claim first flips the slot bit through the allocator, which persists the
// change before it becomes visible. Enrichment runs afterwards and never
// undoes the claim: a failed enrichment is reported through the Receipt and
// an EnrichmentError, and can be retried later with Reenrich.
package claims

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jiayi-1994/slotmap/pkg/allocator"
	"github.com/jiayi-1994/slotmap/pkg/config"
	"github.com/jiayi-1994/slotmap/pkg/enrich"
	"github.com/jiayi-1994/slotmap/pkg/logging"
	"github.com/jiayi-1994/slotmap/pkg/metrics"
	"github.com/jiayi-1994/slotmap/pkg/store"
)

var (
	// ErrNotClaimed is returned by Reenrich for a slot nobody claimed
	ErrNotClaimed = errors.New("slot is not claimed")

	// ErrEnrichmentDisabled is returned by Reenrich when no enricher is configured
	ErrEnrichmentDisabled = errors.New("enrichment is disabled")
)

// EnrichmentError reports that a claim succeeded but its enrichment did not
type EnrichmentError struct {
	Slot  uint64
	Cause error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("slot %d claimed but enrichment failed: %v", e.Slot, e.Cause)
}

func (e *EnrichmentError) Unwrap() error {
	return e.Cause
}

// IsEnrichmentError checks if an error is an EnrichmentError
func IsEnrichmentError(err error) bool {
	var target *EnrichmentError
	return errors.As(err, &target)
}

// Receipt describes a successful claim
type Receipt struct {
	Slot      uint64    `json:"slot"`
	Name      string    `json:"name"`
	ClaimedAt time.Time `json:"claimedAt"`

	// Enriched is false when enrichment is disabled or failed
	Enriched bool `json:"enriched"`
}

// Status is a snapshot of the index and its universe
type Status struct {
	CapacityBits      uint64    `json:"capacityBits"`
	Claimed           uint64    `json:"claimed"`
	TotalSlots        uint64    `json:"totalSlots"`
	EligibilityStride uint64    `json:"eligibilityStride"`
	GoLive            time.Time `json:"goLive"`
	Live              bool      `json:"live"`
	Backend           string    `json:"backend,omitempty"`
}

// Option configures a Service
type Option func(*Service)

// WithEnricher overrides the enricher built from the configuration.
// A nil enricher disables enrichment.
func WithEnricher(e enrich.Enricher) Option {
	return func(s *Service) {
		s.enricher = e
	}
}

// WithClock overrides the wall clock used by Status
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service is the claim entry point shared by the CLI and the HTTP API.
//
// Thread Safety: All methods are thread-safe.
type Service struct {
	allocator    *allocator.SlotAllocator
	store        store.Store
	enricher     enrich.Enricher
	nameTemplate string
	now          func() time.Time
}

// Open opens the configured store, loads the persisted index and builds the
// service around it.
//
// Parameters:
//   - cfg: Validated configuration
//   - opts: Optional overrides
//
// Returns:
//   - *Service: Service instance, the caller must Close it
//   - error: Error if the store cannot be opened or holds a corrupt index
func Open(cfg *config.Config, opts ...Option) (*Service, error) {
	st, err := store.Open(cfg.Store, cfg.Index.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}

	svc, err := New(cfg, st, opts...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return svc, nil
}

// New builds a service on an already opened store. The service takes
// ownership of st.
func New(cfg *config.Config, st store.Store, opts ...Option) (*Service, error) {
	data, err := st.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load slot index: %w", err)
	}

	index, err := allocator.LoadPresenceIndex(data,
		allocator.WithBlockSize(cfg.Index.BlockSize),
		allocator.WithJournal(&meteredJournal{store: st}),
	)
	if err != nil {
		return nil, err
	}

	alloc, err := allocator.NewSlotAllocator(allocator.Universe{
		TotalSlots:        cfg.Universe.TotalSlots,
		EligibilityStride: cfg.Universe.EligibilityStride,
		GoLive:            cfg.Universe.GoLive,
	}, index)
	if err != nil {
		return nil, err
	}

	s := &Service{
		allocator:    alloc,
		store:        st,
		enricher:     enricherFromConfig(cfg.Enrichment),
		nameTemplate: cfg.Enrichment.NameTemplate,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.refreshGauges()
	logging.LoggerForStore(st.Backend()).Info("Slot index loaded",
		"capacityBits", index.Capacity(), "claimed", alloc.TotalClaimed())
	return s, nil
}

// enricherFromConfig builds the webhook or log enricher, or nil when disabled
func enricherFromConfig(cfg config.EnrichmentConfig) enrich.Enricher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.WebhookURL == "" {
		return enrich.LogEnricher{}
	}
	return enrich.NewRetrying(enrich.NewWebhookEnricher(cfg.WebhookURL, cfg.RequestTimeout), enrich.RetryOptions{
		InitialInterval: cfg.InitialInterval,
		MaxElapsedTime:  cfg.MaxElapsedTime,
	})
}

// Provision grows the index to at least bits slots. It only ever grows.
func (s *Service) Provision(ctx context.Context, bits uint64) error {
	logger := logging.FromContext(ctx)
	before := s.allocator.Index().Capacity()

	if err := s.allocator.Init(bits); err != nil {
		logger.Error(err, "Failed to provision slot index", "bits", bits)
		return err
	}

	after := s.allocator.Index().Capacity()
	if after > before {
		metrics.RecordIndexGrowth()
		logger.Info("Slot index grown", "fromBits", before, "toBits", after)
	} else {
		logger.Debug("Slot index already provisioned", "capacityBits", after, "requestedBits", bits)
	}
	if after < s.allocator.Universe().TotalSlots {
		logger.Warn("Slot index smaller than the slot universe",
			"capacityBits", after, "totalSlots", s.allocator.Universe().TotalSlots)
	}

	s.refreshGauges()
	return nil
}

// Claim claims slot and then enriches it.
//
// Returns:
//   - *Receipt: Non-nil whenever the slot was claimed by this call
//   - error: The allocator error when the claim was rejected, or an
//     EnrichmentError when the claim succeeded but enrichment failed
func (s *Service) Claim(ctx context.Context, slot uint64, now time.Time, counter uint64) (*Receipt, error) {
	logger := logging.LoggerForSlot(ctx, slot)

	timer := metrics.NewTimer()
	err := s.allocator.Claim(slot, now, counter)
	metrics.RecordClaim(claimResult(err), timer.ObserveDuration())

	if err != nil {
		switch {
		case allocator.IsRoutine(err):
			logger.Debug("Claim rejected", "counter", counter, "reason", err.Error())
		case allocator.IsProvisioningError(err):
			logger.Error(err, "Slot index is under-provisioned",
				"capacityBits", s.allocator.Index().Capacity(), "totalSlots", s.allocator.Universe().TotalSlots)
		default:
			logger.Error(err, "Failed to claim slot", "counter", counter)
		}
		return nil, err
	}

	logger.Info("Slot claimed", "counter", counter)
	s.refreshGauges()

	receipt := &Receipt{
		Slot:      slot,
		Name:      enrich.Name(s.nameTemplate, slot),
		ClaimedAt: now.UTC(),
	}
	if err := s.runEnrichment(ctx, receipt); err != nil {
		return receipt, err
	}
	return receipt, nil
}

// Reenrich runs enrichment again for an already claimed slot
func (s *Service) Reenrich(ctx context.Context, slot uint64) (*Receipt, error) {
	if s.enricher == nil {
		return nil, ErrEnrichmentDisabled
	}

	claimed, err := s.allocator.IsClaimed(slot)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("cannot enrich slot %d: %w", slot, ErrNotClaimed)
	}

	// Claim times are not persisted
	receipt := &Receipt{
		Slot:      slot,
		Name:      enrich.Name(s.nameTemplate, slot),
		ClaimedAt: s.now().UTC(),
	}
	if err := s.runEnrichment(ctx, receipt); err != nil {
		return receipt, err
	}
	return receipt, nil
}

func (s *Service) runEnrichment(ctx context.Context, receipt *Receipt) error {
	if s.enricher == nil {
		return nil
	}

	err := s.enricher.Enrich(ctx, enrich.Artifact{
		Slot:      receipt.Slot,
		Name:      receipt.Name,
		ClaimedAt: receipt.ClaimedAt,
	})
	metrics.RecordEnrichment(err)
	if err != nil {
		logging.LoggerForSlot(ctx, receipt.Slot).Error(err, "Enrichment failed, slot stays claimed", "name", receipt.Name)
		return &EnrichmentError{Slot: receipt.Slot, Cause: err}
	}

	receipt.Enriched = true
	return nil
}

// IsClaimed reports whether slot is claimed
func (s *Service) IsClaimed(slot uint64) (bool, error) {
	return s.allocator.IsClaimed(slot)
}

// TotalClaimed returns the number of claimed slots
func (s *Service) TotalClaimed() uint64 {
	return s.allocator.TotalClaimed()
}

// ClaimedInRange lists claimed slots in [from, to)
func (s *Service) ClaimedInRange(from, to uint64) ([]uint64, error) {
	return s.allocator.ClaimedInRange(from, to)
}

// EligibleHorizon returns how many slots are revealed at counter
func (s *Service) EligibleHorizon(counter uint64) uint64 {
	return s.allocator.EligibleHorizon(counter)
}

// Status returns a snapshot of the index
func (s *Service) Status() Status {
	universe := s.allocator.Universe()
	status := Status{
		CapacityBits:      s.allocator.Index().Capacity(),
		Claimed:           s.allocator.TotalClaimed(),
		TotalSlots:        universe.TotalSlots,
		EligibilityStride: universe.EligibilityStride,
		GoLive:            universe.GoLive,
		Live:              s.allocator.Live(s.now()),
		Backend:           s.store.Backend(),
	}
	metrics.SetIndexStats(status.CapacityBits, status.Claimed)
	return status
}

// Close closes the underlying store
func (s *Service) Close() error {
	return s.store.Close()
}

func (s *Service) refreshGauges() {
	metrics.SetIndexStats(s.allocator.Index().Capacity(), s.allocator.TotalClaimed())
}

// claimResult maps a claim error to its metric label
func claimResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case allocator.IsAlreadyClaimed(err):
		return metrics.ResultAlreadyClaimed
	case allocator.IsInvalidSlot(err):
		return metrics.ResultInvalidSlot
	case allocator.IsNotLive(err):
		return metrics.ResultNotLive
	case allocator.IsProvisioningError(err):
		return metrics.ResultProvisioningError
	default:
		return metrics.ResultFailure
	}
}
