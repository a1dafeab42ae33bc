package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/agape-peninsula/counsel-api/internal/domain"
)

// GeminiClient is the alternate oracle backend on Vertex AI. It carries
// the same failure taxonomy as the OpenAI-compatible adapter.
type GeminiClient struct {
	client    *genai.Client
	modelName string
}

func NewGeminiClient(ctx context.Context, projectID, location, modelName string) (*GeminiClient, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for the gemini oracle")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Vertex AI client: %w", err)
	}

	return &GeminiClient{
		client:    client,
		modelName: modelName,
	}, nil
}

// GetReply implements domain.Oracle.
func (g *GeminiClient) GetReply(ctx context.Context, message string, replyCtx domain.ReplyContext) (string, error) {
	var contents []*genai.Content
	for _, m := range replyCtx.History {
		role := genai.Role(genai.RoleUser)
		if m.Sender == domain.SenderAI {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Body, role))
	}
	contents = append(contents, genai.NewContentFromText(message, genai.RoleUser))

	system := BuildSystemInstruction(replyCtx.Track, replyCtx.UserType)
	return g.generate(ctx, system, contents, 500, 0.7)
}

// Summarize implements domain.Oracle.
func (g *GeminiClient) Summarize(ctx context.Context, transcript []*domain.Message) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(FlattenTranscript(transcript), genai.RoleUser),
	}
	return g.generate(ctx, summaryPrompt, contents, 150, 0.5)
}

// Sentiment implements domain.Oracle.
func (g *GeminiClient) Sentiment(ctx context.Context, text string) (domain.Sentiment, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	out, err := g.generate(ctx, sentimentPrompt, contents, 10, 0)
	if err != nil {
		return domain.SentimentNeutral, err
	}
	return ParseSentiment(out), nil
}

// Ping implements domain.Oracle.
func (g *GeminiClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	contents := []*genai.Content{
		genai.NewContentFromText(`Hello, can you respond with just "OK"?`, genai.RoleUser),
	}
	_, err := g.generate(ctx, "", contents, 10, 0)
	return err
}

func (g *GeminiClient) generate(ctx context.Context, system string, contents []*genai.Content, maxTokens int32, temp float32) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: maxTokens,
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	res, err := g.client.Models.GenerateContent(ctx, g.modelName, contents, cfg)
	if err != nil {
		return "", &domain.OracleError{Kind: classifyGenAIError(err), Err: err}
	}

	text := res.Text()
	if text == "" {
		return "", &domain.OracleError{
			Kind: domain.OracleTransient,
			Err:  fmt.Errorf("vertex returned empty text"),
		}
	}
	return text, nil
}

func classifyGenAIError(err error) domain.OracleErrorKind {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code)
	}
	return domain.OracleTransient
}
