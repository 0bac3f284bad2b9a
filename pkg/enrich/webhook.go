package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxErrorBody caps how much of a failed response is kept in the error
const maxErrorBody = 512

// WebhookEnricher POSTs each artifact as JSON to a fixed URL.
//
// Response handling:
//   - 2xx and 409 Conflict are success; 409 means the receiver already
//     knows the artifact
//   - 5xx and transport errors are retryable
//   - any other status is permanent
type WebhookEnricher struct {
	url    string
	client *http.Client
}

// NewWebhookEnricher creates a webhook enricher. A zero timeout means no
// per-request timeout beyond the caller's context.
func NewWebhookEnricher(url string, timeout time.Duration) *WebhookEnricher {
	return &WebhookEnricher{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Enrich delivers the artifact once
func (w *WebhookEnricher) Enrich(ctx context.Context, artifact Artifact) error {
	body, err := json.Marshal(artifact)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to encode artifact for slot %d: %w", artifact.Slot, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request for slot %d failed: %w", artifact.Slot, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 || resp.StatusCode == http.StatusConflict {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	statusErr := &StatusError{Slot: artifact.Slot, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(detail))}
	if resp.StatusCode >= 500 {
		return statusErr
	}
	return backoff.Permanent(statusErr)
}

// StatusError is returned when the webhook answers with a failure status
type StatusError struct {
	Slot       uint64
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook rejected slot %d with status %d", e.Slot, e.StatusCode)
	}
	return fmt.Sprintf("webhook rejected slot %d with status %d: %s", e.Slot, e.StatusCode, e.Body)
}
