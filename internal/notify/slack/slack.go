// Package slack posts allocation runs to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/allocator/internal/allocation"
)

const (
	maxSummaryLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier sends allocation runs to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

var _ allocation.Notifier = (*Notifier)(nil)

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Send posts an allocation run to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, run *allocation.Run) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(run))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(r *allocation.Run) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(r),
			{"type": "divider"},
			fieldsBlock(r),
			allocationBlock(r),
			{"type": "divider"},
			summaryBlock(r),
			{"type": "divider"},
			contextBlock(r),
		},
	}
}

func headerBlock(r *allocation.Run) map[string]any {
	title := "Allocation Optimized"
	if r.Source == allocation.SourceFallback {
		title = "Allocation Fallback"
	}
	text := fmt.Sprintf("%s %s: risk %d, $%s", sourceEmoji(r), title, r.RiskScore, r.Capital.StringFixed(2))

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(r *allocation.Run) map[string]any {
	strategy := string(r.Strategy)
	if strategy == "" {
		strategy = "none"
	}
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Source:* %s", r.Source),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Strategy:* %s", strategy),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Projected:* %s", r.TotalProjectedReturn),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Duration:* %.2fs", r.Duration),
		},
	}
	if r.DataSource != "" {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Market data:* %s", r.DataSource),
		})
	}
	if r.FallbackReason != "" {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Fallback reason:* %s", r.FallbackReason),
		})
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func allocationBlock(r *allocation.Run) map[string]any {
	var b strings.Builder
	b.WriteString("*Allocation*\n")
	for _, it := range r.Allocation {
		fmt.Fprintf(&b, "• *%s* %s%% ($%s)", it.AssetClass, allocation.FormatPercent(it.Percentage), it.Amount.StringFixed(2))
		if len(it.RecommendedAssets) > 0 {
			fmt.Fprintf(&b, ": %s", strings.Join(it.RecommendedAssets, ", "))
		}
		b.WriteString("\n")
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": strings.TrimSuffix(b.String(), "\n"),
		},
	}
}

func summaryBlock(r *allocation.Run) map[string]any {
	text := truncate(r.AgentSummary, maxSummaryLen)
	if text == "" {
		text = "_No summary available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Summary*\n\n%s", text),
		},
	}
}

func contextBlock(r *allocation.Run) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("allocator • run %s • %s", r.ID, r.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func sourceEmoji(r *allocation.Run) string {
	if r.Source == allocation.SourceFallback {
		return "\U0001f7e1" // yellow circle
	}
	return "\U0001f7e2" // green circle
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
