package core

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"aiapproach.com/chat-service/internal/store"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"

	memorySnapshotVersion = 1
)

type MemoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Memory is the ordered message history feeding the next completion
// prompt. It is derivable from the conversation transcript but cached and
// persisted separately so prompts never replay the transcript from scratch.
type Memory struct {
	Messages []MemoryMessage
}

// memorySnapshot is the on-disk form. Versioned so a future format change
// can still read old snapshots instead of silently corrupting them.
type memorySnapshot struct {
	Version  int             `json:"version"`
	Messages []MemoryMessage `json:"messages"`
}

type MemoryManager struct {
	mu     sync.Mutex
	store  *store.SQLiteStore
	active map[string]*Memory
}

func NewMemoryManager(dbStore *store.SQLiteStore) *MemoryManager {
	return &MemoryManager{
		store:  dbStore,
		active: make(map[string]*Memory),
	}
}

// GetOrCreate resolves a conversation's memory: in-process cache first,
// then the persisted snapshot, then reconstruction from the transcript,
// then a fresh empty memory. Every path caches and persists the result.
// A corrupt snapshot falls through to transcript reconstruction.
func (m *MemoryManager) GetOrCreate(conversationID string) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(conversationID)
}

func (m *MemoryManager) getOrCreateLocked(conversationID string) *Memory {
	if mem, ok := m.active[conversationID]; ok {
		return mem
	}

	if mem := m.loadSnapshot(conversationID); mem != nil {
		m.active[conversationID] = mem
		return mem
	}

	mem := m.reconstruct(conversationID)
	m.active[conversationID] = mem
	m.persistLocked(conversationID, mem)
	return mem
}

func (m *MemoryManager) loadSnapshot(conversationID string) *Memory {
	data, err := m.store.LoadMemorySnapshot(conversationID)
	if err != nil {
		log.Printf("Error loading memory snapshot for conversation %s: %v", conversationID, err)
		return nil
	}
	if data == nil {
		return nil
	}

	var snap memorySnapshot
	if err := json.Unmarshal(data, &snap); err != nil || snap.Version != memorySnapshotVersion {
		log.Printf("Discarding unreadable memory snapshot for conversation %s, rebuilding from transcript", conversationID)
		return nil
	}
	return &Memory{Messages: snap.Messages}
}

// reconstruct replays the conversation transcript into memory entries,
// prefixed by a synthetic system message naming the associated files when
// the mode grounds answers in them. Unknown conversations yield a fresh
// empty memory.
func (m *MemoryManager) reconstruct(conversationID string) *Memory {
	conv, err := m.store.GetConversation(conversationID)
	if err != nil {
		log.Printf("Error loading conversation %s for memory reconstruction: %v", conversationID, err)
	}
	if conv == nil {
		return &Memory{}
	}

	mem := &Memory{}
	if conv.Mode.UsesFiles() && len(conv.FileIDs) > 0 {
		if info := m.fileInformation(conv.FileIDs); info != "" {
			mem.Messages = append(mem.Messages, MemoryMessage{
				Role:    RoleSystem,
				Content: "This conversation includes the following files: " + info,
			})
		}
	}
	for _, msg := range conv.Messages {
		mem.Messages = append(mem.Messages, MemoryMessage{Role: msg.Role, Content: msg.Content})
	}
	return mem
}

// InitializeForConversation builds the memory for a freshly created
// conversation: an inherited copy of the predecessor's memory when one is
// linked, plus the synthetic file message for file-scoped modes.
func (m *MemoryManager) InitializeForConversation(conv *store.Conversation) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()

	var mem *Memory
	if conv.PreviousConversationID != nil && *conv.PreviousConversationID != "" {
		mem = m.inheritLocked(*conv.PreviousConversationID)
	}
	if mem == nil {
		mem = &Memory{}
	}

	if len(conv.FileIDs) > 0 && (conv.Mode == store.ModeSingleFile || conv.Mode == store.ModeMultiFile) {
		if info := m.fileInformation(conv.FileIDs); info != "" {
			mem.Messages = append(mem.Messages, MemoryMessage{
				Role:    RoleSystem,
				Content: "This conversation includes the following files: " + info,
			})
		}
	}

	m.active[conv.ID] = mem
	m.persistLocked(conv.ID, mem)
	return mem
}

// inheritLocked produces a verbatim, order-preserving copy of the source
// conversation's memory. The copy is independent: appending to it never
// touches the source.
func (m *MemoryManager) inheritLocked(sourceConversationID string) *Memory {
	source := m.getOrCreateLocked(sourceConversationID)
	if source == nil {
		return nil
	}
	mem := &Memory{Messages: make([]MemoryMessage, len(source.Messages))}
	copy(mem.Messages, source.Messages)
	return mem
}

// Append records a completed turn, user message then assistant answer, and
// persists the updated snapshot.
func (m *MemoryManager) Append(conversationID, userText, assistantText string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem := m.getOrCreateLocked(conversationID)
	mem.Messages = append(mem.Messages,
		MemoryMessage{Role: RoleUser, Content: userText},
		MemoryMessage{Role: RoleAssistant, Content: assistantText},
	)
	m.persistLocked(conversationID, mem)
}

// Drop removes a deleted conversation's memory from cache and disk.
func (m *MemoryManager) Drop(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.active, conversationID)
	if err := m.store.DeleteMemorySnapshot(conversationID); err != nil {
		log.Printf("Error deleting memory snapshot for conversation %s: %v", conversationID, err)
	}
}

func (m *MemoryManager) persistLocked(conversationID string, mem *Memory) {
	snap := memorySnapshot{Version: memorySnapshotVersion, Messages: mem.Messages}
	data, err := json.Marshal(snap)
	if err != nil {
		log.Printf("Error marshaling memory snapshot for conversation %s: %v", conversationID, err)
		return
	}
	if err := m.store.SaveMemorySnapshot(conversationID, data); err != nil {
		log.Printf("Error saving memory snapshot for conversation %s: %v", conversationID, err)
	}
}

func (m *MemoryManager) fileInformation(fileIDs []string) string {
	var parts []string
	for _, fileID := range fileIDs {
		rec, err := m.store.GetFileByID(fileID)
		if err != nil {
			log.Printf("Error loading file %s for memory file info: %v", fileID, err)
			continue
		}
		if rec != nil {
			parts = append(parts, fmt.Sprintf("%s (ID: %s)", rec.Filename, rec.FileID))
		}
	}
	return strings.Join(parts, ", ")
}
