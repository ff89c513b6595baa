package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	apiURL     = "https://api.anthropic.com/v1/messages"
	apiVersion = "2023-06-01"
	model      = "claude-3-haiku-20240307"
	maxTokens  = 256
)

// Intent is what a provider meant by a free-text reply to an offer.
type Intent string

const (
	IntentAccept  Intent = "accept"
	IntentDecline Intent = "decline"
	IntentUnknown Intent = "unknown"
)

// Classification is the model's reading of a provider reply.
type Classification struct {
	Intent Intent `json:"intent"`
	Reason string `json:"reason"`
}

// Client defines the interface for AI text processing.
type Client interface {
	ClassifyOfferReply(ctx context.Context, offer, reply string) (Classification, error)
}

type anthropicClient struct {
	httpClient *resty.Client
	url        string
}

// NewClient creates a configured Anthropic client.
func NewClient(apiKey string) Client {
	return newClient(apiKey, apiURL)
}

func newClient(apiKey, url string) *anthropicClient {
	client := resty.New().
		SetHeader("x-api-key", apiKey).
		SetHeader("anthropic-version", apiVersion).
		SetHeader("content-type", "application/json").
		SetTimeout(15 * time.Second)

	return &anthropicClient{httpClient: client, url: url}
}

type messageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []Message `json:"messages"`
}

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

const classifyPrompt = `You read WhatsApp replies from truck drivers on a construction materials marketplace.
The driver was offered this delivery:

%s

Decide whether the driver's reply accepts the job, declines it, or is something else.
Your output must be ONLY a JSON object: {"intent": "accept" | "decline" | "unknown", "reason": "<short decline reason or empty>"}
Replies may be in any language. Questions, greetings and anything ambiguous are "unknown".`

// ClassifyOfferReply asks the model whether reply accepts or declines offer.
func (c *anthropicClient) ClassifyOfferReply(ctx context.Context, offer, reply string) (Classification, error) {
	reqBody := messageRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    fmt.Sprintf(classifyPrompt, offer),
		Messages: []Message{
			{Role: "user", Content: reply},
			// Prefill the assistant response to force JSON
			{Role: "assistant", Content: "{"},
		},
	}

	var respBody messageResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(reqBody).
		SetResult(&respBody).
		Post(c.url)
	if err != nil {
		return Classification{}, fmt.Errorf("anthropic api call: %w", err)
	}
	if resp.IsError() {
		return Classification{}, fmt.Errorf("anthropic api error: %s", resp.String())
	}
	if len(respBody.Content) == 0 {
		return Classification{}, fmt.Errorf("empty response from ai")
	}

	// Reconstruct the full JSON since we prefilled the opening brace
	responseText := strings.TrimSpace("{" + respBody.Content[0].Text)
	if strings.HasPrefix(responseText, "```") {
		responseText = strings.TrimPrefix(responseText, "```json")
		responseText = strings.TrimPrefix(responseText, "```")
		responseText = strings.TrimSuffix(responseText, "```")
		responseText = strings.TrimSpace(responseText)
	}

	var out Classification
	if err := json.Unmarshal([]byte(responseText), &out); err != nil {
		return Classification{Intent: IntentUnknown}, fmt.Errorf("failed to unmarshal ai response: %w", err)
	}
	switch out.Intent {
	case IntentAccept, IntentDecline:
	default:
		out.Intent = IntentUnknown
	}
	out.Reason = strings.TrimSpace(out.Reason)
	return out, nil
}
