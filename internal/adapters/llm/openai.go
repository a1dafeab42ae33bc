package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/agape-peninsula/counsel-api/internal/domain"
)

const (
	// placeholderKey is the value shipped in the sample .env; treating it
	// as unconfigured avoids burning a network call on a known-bad key.
	placeholderKey = "your-openai-api-key"

	defaultTimeout = 30 * time.Second
	pingTimeout    = 10 * time.Second
)

// OpenAIClient implements domain.Oracle against an OpenAI-compatible
// chat-completions endpoint. One network call per method, bounded by the
// client timeout, no retries; every failure is classified into an
// *domain.OracleError kind.
type OpenAIClient struct {
	http   *resty.Client
	apiKey string
	model  string
}

func NewOpenAIClient(baseURL, apiKey, model string) *OpenAIClient {
	if model == "" {
		model = "gpt-3.5-turbo"
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetHeader("Content-Type", "application/json")

	return &OpenAIClient{
		http:   client,
		apiKey: apiKey,
		model:  model,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model            string        `json:"model"`
	Messages         []chatMessage `json:"messages"`
	MaxTokens        int           `json:"max_tokens"`
	Temperature      float64       `json:"temperature"`
	TopP             float64       `json:"top_p,omitempty"`
	FrequencyPenalty float64       `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64       `json:"presence_penalty,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// GetReply implements domain.Oracle.
func (c *OpenAIClient) GetReply(ctx context.Context, message string, replyCtx domain.ReplyContext) (string, error) {
	system := BuildSystemInstruction(replyCtx.Track, replyCtx.UserType)

	msgs := []chatMessage{{Role: "system", Content: system}}
	for _, m := range replyCtx.History {
		role := "user"
		if m.Sender == domain.SenderAI {
			role = "assistant"
		}
		msgs = append(msgs, chatMessage{Role: role, Content: m.Body})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: message})

	return c.complete(ctx, chatRequest{
		Model:            c.model,
		Messages:         msgs,
		MaxTokens:        500,
		Temperature:      0.7,
		TopP:             1,
		FrequencyPenalty: 0.1,
		PresencePenalty:  0.1,
	})
}

// Summarize implements domain.Oracle.
func (c *OpenAIClient) Summarize(ctx context.Context, transcript []*domain.Message) (string, error) {
	return c.complete(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: summaryPrompt},
			{Role: "user", Content: FlattenTranscript(transcript)},
		},
		MaxTokens:   150,
		Temperature: 0.5,
	})
}

// Sentiment implements domain.Oracle.
func (c *OpenAIClient) Sentiment(ctx context.Context, text string) (domain.Sentiment, error) {
	out, err := c.complete(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: sentimentPrompt},
			{Role: "user", Content: text},
		},
		MaxTokens:   10,
		Temperature: 0,
	})
	if err != nil {
		return domain.SentimentNeutral, err
	}
	return ParseSentiment(out), nil
}

// Ping makes a minimal completion call to verify connectivity.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	_, err := c.complete(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: `Hello, can you respond with just "OK"?`},
		},
		MaxTokens:   10,
		Temperature: 0,
	})
	return err
}

// Configured reports whether a usable API key is present.
func (c *OpenAIClient) Configured() bool {
	return c.apiKey != "" && c.apiKey != placeholderKey
}

func (c *OpenAIClient) complete(ctx context.Context, req chatRequest) (string, error) {
	if !c.Configured() {
		return "", &domain.OracleError{
			Kind: domain.OracleUnconfigured,
			Err:  fmt.Errorf("OPENAI_API_KEY is missing or a placeholder"),
		}
	}

	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.apiKey).
		SetBody(req).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		// Transport errors and timeouts land here.
		return "", &domain.OracleError{Kind: domain.OracleTransient, Err: err}
	}

	if resp.IsError() {
		return "", &domain.OracleError{
			Kind: classifyStatus(resp.StatusCode()),
			Err:  fmt.Errorf("completion returned %s", resp.Status()),
		}
	}

	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", &domain.OracleError{
			Kind: domain.OracleTransient,
			Err:  fmt.Errorf("completion response had no content"),
		}
	}
	return out.Choices[0].Message.Content, nil
}

func classifyStatus(code int) domain.OracleErrorKind {
	switch code {
	case http.StatusUnauthorized:
		return domain.OracleUnauthorized
	case http.StatusTooManyRequests:
		return domain.OracleRateLimited
	case http.StatusPaymentRequired:
		return domain.OracleQuotaExhausted
	default:
		return domain.OracleTransient
	}
}
