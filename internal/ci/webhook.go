package ci

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
)

// webhookPayload is the JSON body POSTed to Options.WebhookURL after every
// smoke-test run, success or failure.
type webhookPayload struct {
	RepoID     string `json:"repo_id"`
	CommitHash string `json:"commit_hash"`
	Status     Status `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	Message    string `json:"message"`
	Total      int    `json:"total_tests"`
	Passed     int    `json:"passed_tests"`
	Failed     int    `json:"failed_tests"`
}

// notifyWebhook posts result to Options.WebhookURL. Failures are logged,
// never returned — a broken webhook endpoint must not block rollback.
func (o *Orchestrator) notifyWebhook(ctx context.Context, result Result) {
	if o.opts.WebhookURL == "" {
		return
	}
	payload := webhookPayload{
		RepoID: result.RepoID, CommitHash: result.CommitHash, Status: result.Status,
		DurationMs: result.DurationMs, Message: result.Message,
		Total: result.Summary.Total, Passed: result.Summary.Passed, Failed: result.Summary.Failed,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		o.log.Error().Err(err).Msg("failed to marshal CI webhook payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.opts.WebhookURL, bytes.NewReader(body))
	if err != nil {
		o.log.Error().Err(err).Msg("failed to build CI webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		o.log.Warn().Err(err).Str("url", o.opts.WebhookURL).Msg("CI webhook delivery failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		o.log.Warn().Int("status", resp.StatusCode).Str("url", o.opts.WebhookURL).Msg("CI webhook returned non-2xx")
	}
}
