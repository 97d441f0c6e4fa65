package store

import "time"

// ConversationMode selects the retrieval scope for a conversation.
type ConversationMode string

const (
	ModeGeneral     ConversationMode = "general"
	ModeSingleFile  ConversationMode = "single_file"
	ModeMultiFile   ConversationMode = "multi_file"
	ModeFullLibrary ConversationMode = "full_library"
)

func (m ConversationMode) Valid() bool {
	switch m {
	case ModeGeneral, ModeSingleFile, ModeMultiFile, ModeFullLibrary:
		return true
	}
	return false
}

// UsesFiles reports whether the mode grounds answers in uploaded files.
func (m ConversationMode) UsesFiles() bool {
	return m != ModeGeneral
}

type FileRecord struct {
	FileID      string    `json:"file_id"`
	Filename    string    `json:"filename"`
	Extension   string    `json:"extension"`
	UploadDate  time.Time `json:"upload_date"`
	Owner       string    `json:"owner"`
	StoragePath string    `json:"storage_path"`
	ChunkCount  int       `json:"chunk_count"`
}

// Chunk is a bounded slice of a file's extracted text. Immutable once
// created; deleted only when its parent file is deleted.
type Chunk struct {
	ChunkID string `json:"chunk_id"`
	FileID  string `json:"file_id"`
	Page    int    `json:"page"` // 1-based page/slide number
	Content string `json:"content"`
}

type ChatMessage struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Conversation struct {
	ID                     string           `json:"id"`
	Owner                  string           `json:"owner"`
	Name                   string           `json:"name"`
	CreatedAt              time.Time        `json:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at"`
	Mode                   ConversationMode `json:"mode"`
	FileIDs                []string         `json:"files"`
	Messages               []ChatMessage    `json:"messages"`
	PreviousConversationID *string          `json:"previous_conversation_id"`
}

// ConversationSummary is the denormalized per-owner listing entry; it never
// carries the transcript.
type ConversationSummary struct {
	ID                     string           `json:"id"`
	Name                   string           `json:"name"`
	CreatedAt              time.Time        `json:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at"`
	Mode                   ConversationMode `json:"mode"`
	FileIDs                []string         `json:"files"`
	PreviousConversationID *string          `json:"previous_conversation_id"`
}
