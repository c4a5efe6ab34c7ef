// Package claude narrates allocation runs with the Claude Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/allocator/internal/allocation"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

const maxTokens = 400

const systemPrompt = `You are a portfolio advisor writing for a retail client.
Summarize the allocation you are given in one short paragraph of at most four sentences.
Mention the optimization objective and the largest positions. Do not invent numbers that are not in the input.
Do not give legal or tax advice. Plain text only, no markdown.`

var errEmptyResponse = errors.New("claude returned no text")

// Narrator implements allocation.Narrator on top of the Anthropic SDK.
type Narrator struct {
	client anthropic.Client
	model  string
}

var _ allocation.Narrator = (*Narrator)(nil)

// New creates a Claude narrator. Extra request options are appended after
// the defaults, so tests can override the base URL.
func New(apiKey, model string, opts ...option.RequestOption) *Narrator {
	if model == "" {
		model = DefaultModel
	}
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{
			Timeout:   60 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}),
		// the service falls back to the template on error; retries only add latency
		option.WithMaxRetries(0),
	}
	return &Narrator{
		client: anthropic.NewClient(append(base, opts...)...),
		model:  model,
	}
}

// Name identifies the narrator in metrics and stored runs.
func (n *Narrator) Name() string { return "claude" }

// Summarize asks the model for a short description of run.
func (n *Narrator) Summarize(ctx context.Context, run *allocation.Run) (string, error) {
	msg, err := n.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(n.model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(run))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude messages: %w", err)
	}
	text := textOf(msg)
	if text == "" {
		return "", errEmptyResponse
	}
	return text, nil
}

func textOf(msg *anthropic.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type != "text" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(block.Text)
	}
	return strings.TrimSpace(b.String())
}

func buildPrompt(run *allocation.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Capital: $%s\n", run.Capital.StringFixed(2))
	fmt.Fprintf(&b, "Risk tolerance: %d of 10\n", run.RiskScore)
	if run.Strategy != "" {
		fmt.Fprintf(&b, "Objective: %s\n", run.Strategy)
	}
	if run.DataSource != "" {
		fmt.Fprintf(&b, "Market data: %s\n", run.DataSource)
	}
	fmt.Fprintf(&b, "Projected: %s\n", run.TotalProjectedReturn)
	b.WriteString("Allocation:\n")
	for _, it := range run.Allocation {
		fmt.Fprintf(&b, "- %s %s%% ($%s): %s\n",
			it.AssetClass, allocation.FormatPercent(it.Percentage), it.Amount.StringFixed(2),
			strings.Join(it.RecommendedAssets, ", "))
	}
	return b.String()
}
