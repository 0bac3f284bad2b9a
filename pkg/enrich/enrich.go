// Package enrich runs the follow-up work attached to a successful claim.
//
// Enrichment is advisory: a claimed slot stays claimed whether or not its
// enrichment succeeds. Enrichers must therefore be idempotent, because the
// same artifact may be delivered again through a re-enrichment request.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jiayi-1994/slotmap/pkg/logging"
)

// DefaultNameTemplate is used when no template is configured
const DefaultNameTemplate = "%d.slot"

// Artifact describes one claimed slot handed to an Enricher
type Artifact struct {
	Slot      uint64    `json:"slot"`
	Name      string    `json:"name"`
	ClaimedAt time.Time `json:"claimedAt"`
}

// Enricher performs the post-claim work for an artifact
type Enricher interface {
	Enrich(ctx context.Context, artifact Artifact) error
}

// EnricherFunc adapts a function to the Enricher interface
type EnricherFunc func(ctx context.Context, artifact Artifact) error

// Enrich calls f(ctx, artifact)
func (f EnricherFunc) Enrich(ctx context.Context, artifact Artifact) error {
	return f(ctx, artifact)
}

// ValidTemplate reports whether template holds exactly one %d verb and no
// other % directive
func ValidTemplate(template string) bool {
	return strings.Count(template, "%d") == 1 && strings.Count(template, "%") == 1
}

// Name derives the deterministic artifact name of a slot.
// An invalid template gets the decimal slot number appended instead.
func Name(template string, slot uint64) string {
	if template == "" {
		template = DefaultNameTemplate
	}
	if !ValidTemplate(template) {
		return fmt.Sprintf("%s%d", template, slot)
	}
	return fmt.Sprintf(template, slot)
}

// NewArtifact builds the artifact for a slot claimed at claimedAt
func NewArtifact(template string, slot uint64, claimedAt time.Time) Artifact {
	return Artifact{
		Slot:      slot,
		Name:      Name(template, slot),
		ClaimedAt: claimedAt.UTC(),
	}
}

// LogEnricher records artifacts in the log and never fails
type LogEnricher struct{}

// Enrich logs the artifact at info level
func (LogEnricher) Enrich(ctx context.Context, artifact Artifact) error {
	logging.LoggerForSlot(ctx, artifact.Slot).Info("Slot enriched",
		"name", artifact.Name, "claimedAt", artifact.ClaimedAt)
	return nil
}
