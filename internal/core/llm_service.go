package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"aiapproach.com/chat-service/internal/config"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	defaultChatModelName      = "gemini-2.0-flash"
	defaultEmbeddingModelName = "text-embedding-004"

	titleSystemInstruction = "You are a helpful assistant that generates concise titles for chat conversations. " +
		"The title should be 3-5 words maximum. Just return the title itself, nothing else."
)

// ErrQuotaExhausted marks a completion failure caused by API quota or rate
// limits, so callers can pick the matching fallback answer.
var ErrQuotaExhausted = errors.New("completion quota exhausted")

// LanguageModel is the external text-completion collaborator plus the two
// lightweight side channels built on it.
type LanguageModel interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GenerateTitle(ctx context.Context, firstMessage string) (string, error)
	DetectLanguage(ctx context.Context, text string) string
}

// LLMService talks to Gemini. It implements LanguageModel and the vector
// index's Embedder.
type LLMService struct {
	client  *genai.Client
	timeout time.Duration
}

func NewLLMService() *LLMService {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(config.AppConfig.GeminiAPIKey))
	if err != nil {
		log.Fatalf("Failed to create GenAI client: %v", err)
	}

	return &LLMService{
		client:  client,
		timeout: time.Duration(config.AppConfig.CompletionTimeout) * time.Second,
	}
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			log.Printf("Error closing GenAI client: %v", err)
		}
	}
}

func (s *LLMService) Embed(ctx context.Context, text string) ([]float32, error) {
	em := s.client.EmbeddingModel(defaultEmbeddingModelName)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

func (s *LLMService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	em := s.client.EmbeddingModel(defaultEmbeddingModelName)
	batch := em.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini batch embedding request failed: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(res.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("empty embedding at position %d", i)
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}

// Complete sends one fully assembled prompt and returns the raw answer
// text. Every call is bounded by the configured timeout; expiry surfaces as
// an ordinary error the caller treats as a retryable completion failure.
func (s *LLMService) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	model := s.client.GenerativeModel(defaultChatModelName)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		if isQuotaError(err) {
			return "", fmt.Errorf("gemini completion: %w: %v", ErrQuotaExhausted, err)
		}
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("gemini returned an empty completion")
	}
	return text, nil
}

func (s *LLMService) GenerateTitle(ctx context.Context, firstMessage string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	model := s.client.GenerativeModel(defaultChatModelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(titleSystemInstruction)},
	}

	temp := float32(0.3)
	maxTokens := int32(20)
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temp,
	}

	prompt := fmt.Sprintf("Generate a short, concise title (3-5 words) for a conversation that starts with this message: '%s'. Return ONLY the title, nothing else.", firstMessage)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini title generation request failed: %w", err)
	}

	title := strings.Trim(responseText(resp), "\"'\n\r\t .")
	if title == "" {
		return "", fmt.Errorf("LLM generated an empty title string")
	}
	if len(title) > 50 {
		title = title[:47] + "..."
	}
	return title, nil
}

// DetectLanguage classifies the message language and returns its ISO code.
// Best effort only: any failure falls back to English.
func (s *LLMService) DetectLanguage(ctx context.Context, text string) string {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	model := s.client.GenerativeModel(defaultChatModelName)
	prompt := fmt.Sprintf("Detect the language of this text and return ONLY the ISO language code (e.g., 'en', 'ar', 'he', 'fr', etc.): '%s'", text)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "en"
	}

	code := strings.ToLower(strings.TrimSpace(responseText(resp)))
	code = strings.NewReplacer("'", "", "\"", "").Replace(code)
	if code == "" || len(code) > 5 {
		return "en"
	}
	return code
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

func isQuotaError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 429 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") && strings.Contains(msg, "quota")
}
