package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"aiapproach.com/chat-service/internal/store"
	"github.com/google/uuid"
)

const DefaultConversationName = "New Conversation"

// Fallback answers for completion failures. The turn is still appended so
// the conversation stays in a valid, appendable state; the user sees a
// degraded answer instead of an error.
const (
	quotaFallbackAnswer = "I'm sorry, the AI service is currently unavailable due to quota limits being exceeded. " +
		"This is a temporary issue with the API key. Please try again later or contact the administrator to update the API key."
	genericFallbackAnswer = "I'm sorry, I encountered an error while processing your request. " +
		"The AI model may be unavailable or there might be an issue with the API key. Please try again later."
)

type ChatService struct {
	dbStore   *store.SQLiteStore
	assembler *ContextAssembler
	memories  *MemoryManager
	llm       LanguageModel
	locks     *keyedLocks
}

func NewChatService(dbStore *store.SQLiteStore, assembler *ContextAssembler, memories *MemoryManager, llm LanguageModel) *ChatService {
	return &ChatService{
		dbStore:   dbStore,
		assembler: assembler,
		memories:  memories,
		llm:       llm,
		locks:     newKeyedLocks(),
	}
}

// MessageResult is the outcome of one processed message.
type MessageResult struct {
	Answer       string              `json:"response"`
	Conversation *store.Conversation `json:"conversation"`
	Language     LanguageInfo        `json:"language"`
}

func (s *ChatService) CreateConversation(owner, name string, fileIDs []string, mode store.ConversationMode, previousConversationID *string) (*store.Conversation, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid conversation mode: %q", mode)
	}
	if mode.UsesFiles() && len(fileIDs) == 0 {
		// Accepted for compatibility, but retrieval will find nothing.
		log.Printf("Warning: creating %s conversation for %s with no files", mode, owner)
	}
	if name == "" {
		name = DefaultConversationName
	}
	if fileIDs == nil {
		fileIDs = []string{}
	}

	now := time.Now()
	conv := &store.Conversation{
		ID:                     uuid.NewString(),
		Owner:                  owner,
		Name:                   name,
		CreatedAt:              now,
		UpdatedAt:              now,
		Mode:                   mode,
		FileIDs:                fileIDs,
		PreviousConversationID: previousConversationID,
	}

	if err := s.dbStore.CreateConversation(conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	s.memories.InitializeForConversation(conv)
	return conv, nil
}

func (s *ChatService) GetConversation(conversationID, owner string) (*store.Conversation, error) {
	conv, err := s.dbStore.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil || conv.Owner != owner {
		return nil, store.ErrNotFound
	}
	return conv, nil
}

func (s *ChatService) ListConversations(owner string) ([]store.ConversationSummary, error) {
	return s.dbStore.GetConversationsByOwner(owner)
}

func (s *ChatService) RenameConversation(conversationID, owner, name string) error {
	if _, err := s.GetConversation(conversationID, owner); err != nil {
		return err
	}
	return s.dbStore.UpdateConversationName(conversationID, name)
}

// DeleteConversation removes the transcript, the owner-index entry and any
// cached memory for the id.
func (s *ChatService) DeleteConversation(conversationID, owner string) error {
	if _, err := s.GetConversation(conversationID, owner); err != nil {
		return err
	}
	if err := s.dbStore.DeleteConversation(conversationID); err != nil {
		return err
	}
	s.memories.Drop(conversationID)
	return nil
}

// ProcessMessage runs one full turn: retrieval, prompt assembly, completion
// (with fallback on failure), citation, transcript and memory append.
// Turns for the same conversation are serialized.
func (s *ChatService) ProcessMessage(ctx context.Context, conversationID, owner, message string) (*MessageResult, error) {
	lock := s.locks.get(conversationID)
	lock.Lock()
	defer lock.Unlock()

	conv, err := s.GetConversation(conversationID, owner)
	if err != nil {
		return nil, err
	}

	language := detectLanguageInfo(ctx, s.llm, message)
	memory := s.memories.GetOrCreate(conv.ID)

	chunks, err := s.assembler.SelectContext(ctx, message, conv)
	if err != nil {
		// Retrieval failure degrades to an ungrounded answer rather than
		// failing the turn.
		log.Printf("Failed to retrieve context for conversation %s: %v", conv.ID, err)
		chunks = nil
	}

	prompt := s.assembler.BuildPrompt(
		s.assembler.SystemPreamble(conv, owner),
		s.assembler.FormatContext(chunks),
		memory,
		message,
	)

	answer, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		log.Printf("Completion failed for conversation %s: %v", conv.ID, err)
		if errors.Is(err, ErrQuotaExhausted) {
			answer = quotaFallbackAnswer
		} else {
			answer = genericFallbackAnswer
		}
	}

	if len(chunks) > 0 {
		answer = s.assembler.AttachCitations(answer, chunks)
	}

	now := time.Now()
	userMsg := store.ChatMessage{Role: RoleUser, Content: message, Timestamp: now}
	assistantMsg := store.ChatMessage{Role: RoleAssistant, Content: answer, Timestamp: now}
	if err := s.dbStore.AppendMessages(conv.ID, userMsg, assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to append turn to conversation %s: %w", conv.ID, err)
	}
	conv.Messages = append(conv.Messages, userMsg, assistantMsg)
	conv.UpdatedAt = now

	// One-shot smart naming: fires only when the first exchange just
	// completed and the name is still the default.
	if len(conv.Messages) == 2 && conv.Name == DefaultConversationName {
		if title, terr := s.llm.GenerateTitle(ctx, message); terr != nil {
			log.Printf("Failed to generate name for conversation %s: %v", conv.ID, terr)
		} else if title != "" {
			if uerr := s.dbStore.UpdateConversationName(conv.ID, title); uerr != nil {
				log.Printf("Failed to save generated name for conversation %s: %v", conv.ID, uerr)
			} else {
				conv.Name = title
			}
		}
	}

	s.memories.Append(conv.ID, message, answer)

	return &MessageResult{
		Answer:       answer,
		Conversation: conv,
		Language:     language,
	}, nil
}

// ExportConversation renders the transcript as markdown or html.
func (s *ChatService) ExportConversation(conversationID, owner, format string) (string, error) {
	conv, err := s.GetConversation(conversationID, owner)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	switch format {
	case "markdown", "":
		fmt.Fprintf(&b, "# %s\n\n", conv.Name)
		fmt.Fprintf(&b, "Created: %s\n\n", conv.CreatedAt.Format(time.RFC3339))
		for _, msg := range conv.Messages {
			role := "Assistant"
			if msg.Role == RoleUser {
				role = "User"
			}
			fmt.Fprintf(&b, "## %s\n\n%s\n\n", role, msg.Content)
		}
	case "html":
		fmt.Fprintf(&b, "<h1>%s</h1>\n", conv.Name)
		fmt.Fprintf(&b, "<p>Created: %s</p>\n", conv.CreatedAt.Format(time.RFC3339))
		for _, msg := range conv.Messages {
			role := "Assistant"
			if msg.Role == RoleUser {
				role = "User"
			}
			fmt.Fprintf(&b, "<h2>%s</h2>\n<div>%s</div>\n", role, msg.Content)
		}
	default:
		return "", fmt.Errorf("unsupported export format: %s", format)
	}
	return b.String(), nil
}
