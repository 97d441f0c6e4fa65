package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"aiapproach.com/chat-service/internal/chunk"
	"aiapproach.com/chat-service/internal/extract"
	"aiapproach.com/chat-service/internal/index"
	"aiapproach.com/chat-service/internal/store"
)

type fakeLanguageModel struct {
	answer      string
	completeErr error
	title       string
	titleErr    error
	language    string

	completeCalls []string
	titleCalls    []string
}

func (f *fakeLanguageModel) Complete(_ context.Context, prompt string) (string, error) {
	f.completeCalls = append(f.completeCalls, prompt)
	if f.completeErr != nil {
		return "", f.completeErr
	}
	return f.answer, nil
}

func (f *fakeLanguageModel) GenerateTitle(_ context.Context, firstMessage string) (string, error) {
	f.titleCalls = append(f.titleCalls, firstMessage)
	if f.titleErr != nil {
		return "", f.titleErr
	}
	return f.title, nil
}

func (f *fakeLanguageModel) DetectLanguage(_ context.Context, _ string) string {
	if f.language == "" {
		return "en"
	}
	return f.language
}

type chatFixture struct {
	store       *store.SQLiteStore
	index       *index.VectorIndex
	llm         *fakeLanguageModel
	files       *FileService
	chatService *ChatService
	memories    *MemoryManager
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	idx, err := index.New(filepath.Join(dir, "vectors"), testEmbedder{})
	if err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}

	files, err := NewFileService(s, idx, extract.NewFileExtractor(), chunk.NewChunker(1000), filepath.Join(dir, "files"))
	if err != nil {
		t.Fatalf("Failed to create file service: %v", err)
	}

	llm := &fakeLanguageModel{answer: "Here is the answer.", title: "Generated Title"}
	memories := NewMemoryManager(s)
	assembler := NewContextAssembler(s, idx, 5)

	return &chatFixture{
		store:       s,
		index:       idx,
		llm:         llm,
		files:       files,
		chatService: NewChatService(s, assembler, memories, llm),
		memories:    memories,
	}
}

func (f *chatFixture) ingestText(t *testing.T, filename, owner, content string) *store.FileRecord {
	t.Helper()
	rec, err := f.files.Ingest(context.Background(), strings.NewReader(content), filename, owner)
	if err != nil {
		t.Fatalf("Ingest of %s failed: %v", filename, err)
	}
	return rec
}

func TestProcessMessageEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)

	// Two paragraphs over the chunk target together, so ingestion yields two
	// chunks of one paragraph each.
	para1 := strings.Repeat("alpha ", 120)
	para2 := strings.Repeat("omega ", 120)
	rec := f.ingestText(t, "report.txt", "alice", para1+"\n\n"+para2)
	if rec.ChunkCount != 2 {
		t.Fatalf("Expected 2 chunks from ingestion, got %d", rec.ChunkCount)
	}

	conv, err := f.chatService.CreateConversation("alice", "", []string{rec.FileID}, store.ModeSingleFile, nil)
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if conv.Name != DefaultConversationName {
		t.Errorf("Expected default name, got %q", conv.Name)
	}

	// Query the second paragraph's content verbatim.
	query := strings.TrimSpace(para2)
	result, err := f.chatService.ProcessMessage(ctx, conv.ID, "alice", query)
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	if !strings.HasPrefix(result.Answer, "Here is the answer.") {
		t.Errorf("Answer should start with the completion text: %q", result.Answer)
	}
	if strings.Count(result.Answer, "### Sources:") != 1 {
		t.Errorf("Expected exactly one sources section: %q", result.Answer)
	}
	if !strings.Contains(result.Answer, "- report.txt (Pages: 1)") {
		t.Errorf("Citation should name the file once with page 1: %q", result.Answer)
	}

	// Retrieved chunk content flows into the prompt.
	if len(f.llm.completeCalls) != 1 {
		t.Fatalf("Expected 1 completion call, got %d", len(f.llm.completeCalls))
	}
	prompt := f.llm.completeCalls[0]
	if !strings.Contains(prompt, "### Reference Information:") {
		t.Errorf("Prompt missing reference block: %q", prompt)
	}
	if !strings.Contains(prompt, strings.TrimSpace(para2)) {
		t.Error("Prompt missing the matching chunk's content")
	}

	// The turn is persisted and the one-shot naming fired.
	stored, err := f.store.GetConversation(conv.ID)
	if err != nil || stored == nil {
		t.Fatalf("Conversation not persisted: %v", err)
	}
	if len(stored.Messages) != 2 {
		t.Fatalf("Expected 2 persisted messages, got %d", len(stored.Messages))
	}
	if stored.Messages[0].Role != RoleUser || stored.Messages[1].Role != RoleAssistant {
		t.Errorf("Unexpected message roles: %+v", stored.Messages)
	}
	if stored.Name != "Generated Title" {
		t.Errorf("Expected generated name, got %q", stored.Name)
	}
	if result.Conversation.Name != "Generated Title" {
		t.Errorf("Result should carry the generated name, got %q", result.Conversation.Name)
	}

	if result.Language.Code != "en" || result.Language.IsRTL {
		t.Errorf("Unexpected language info: %+v", result.Language)
	}
}

func TestProcessMessageGeneralModeSkipsRetrieval(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)
	f.ingestText(t, "notes.txt", "alice", "indexed content that could match")

	conv, err := f.chatService.CreateConversation("alice", "Chat", nil, store.ModeGeneral, nil)
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	result, err := f.chatService.ProcessMessage(ctx, conv.ID, "alice", "indexed content that could match")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if strings.Contains(result.Answer, "### Sources:") {
		t.Errorf("General mode answer should carry no citations: %q", result.Answer)
	}
	if strings.Contains(f.llm.completeCalls[0], "### Reference Information:") {
		t.Error("General mode prompt should carry no reference block")
	}
}

func TestProcessMessageQuotaFallback(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)
	f.llm.completeErr = fmt.Errorf("completion request failed: %w", ErrQuotaExhausted)

	conv, err := f.chatService.CreateConversation("alice", "Chat", nil, store.ModeGeneral, nil)
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	result, err := f.chatService.ProcessMessage(ctx, conv.ID, "alice", "hello")
	if err != nil {
		t.Fatalf("ProcessMessage should degrade, not fail: %v", err)
	}
	if result.Answer != quotaFallbackAnswer {
		t.Errorf("Expected quota fallback answer, got %q", result.Answer)
	}

	// The degraded turn is still appended, keeping the conversation usable.
	stored, _ := f.store.GetConversation(conv.ID)
	if len(stored.Messages) != 2 {
		t.Fatalf("Expected 2 persisted messages, got %d", len(stored.Messages))
	}
	if stored.Messages[1].Content != quotaFallbackAnswer {
		t.Errorf("Fallback answer not persisted: %q", stored.Messages[1].Content)
	}

	mem := f.memories.GetOrCreate(conv.ID)
	if len(mem.Messages) != 2 || mem.Messages[1].Content != quotaFallbackAnswer {
		t.Errorf("Fallback answer not in memory: %+v", mem.Messages)
	}
}

func TestProcessMessageGenericFallback(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)
	f.llm.completeErr = errors.New("model unavailable")

	conv, err := f.chatService.CreateConversation("alice", "Chat", nil, store.ModeGeneral, nil)
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	result, err := f.chatService.ProcessMessage(ctx, conv.ID, "alice", "hello")
	if err != nil {
		t.Fatalf("ProcessMessage should degrade, not fail: %v", err)
	}
	if result.Answer != genericFallbackAnswer {
		t.Errorf("Expected generic fallback answer, got %q", result.Answer)
	}
}

func TestProcessMessageSmartNamingIsOneShot(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)

	// A conversation created with an explicit name is never renamed.
	named, err := f.chatService.CreateConversation("alice", "My Research", nil, store.ModeGeneral, nil)
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if _, err := f.chatService.ProcessMessage(ctx, named.ID, "alice", "first message"); err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if len(f.llm.titleCalls) != 0 {
		t.Errorf("Naming should not fire for explicitly named conversations, got %d calls", len(f.llm.titleCalls))
	}

	// Default-named conversations are renamed after the first exchange only.
	conv, err := f.chatService.CreateConversation("alice", "", nil, store.ModeGeneral, nil)
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if _, err := f.chatService.ProcessMessage(ctx, conv.ID, "alice", "what is Go?"); err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if len(f.llm.titleCalls) != 1 {
		t.Fatalf("Expected 1 naming call, got %d", len(f.llm.titleCalls))
	}
	if f.llm.titleCalls[0] != "what is Go?" {
		t.Errorf("Naming should use the first user message, got %q", f.llm.titleCalls[0])
	}
	if _, err := f.chatService.ProcessMessage(ctx, conv.ID, "alice", "second message"); err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if len(f.llm.titleCalls) != 1 {
		t.Errorf("Naming fired again on a later exchange: %d calls", len(f.llm.titleCalls))
	}
}

func TestProcessMessageNamingFailureKeepsDefault(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)
	f.llm.titleErr = errors.New("title generation failed")

	conv, err := f.chatService.CreateConversation("alice", "", nil, store.ModeGeneral, nil)
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	result, err := f.chatService.ProcessMessage(ctx, conv.ID, "alice", "hello")
	if err != nil {
		t.Fatalf("ProcessMessage should not fail on naming errors: %v", err)
	}
	if result.Conversation.Name != DefaultConversationName {
		t.Errorf("Name should stay default when naming fails, got %q", result.Conversation.Name)
	}
}

func TestProcessMessageRTLLanguage(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)
	f.llm.language = "ar"

	conv, err := f.chatService.CreateConversation("alice", "Chat", nil, store.ModeGeneral, nil)
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	result, err := f.chatService.ProcessMessage(ctx, conv.ID, "alice", "مرحبا")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if result.Language.Code != "ar" || !result.Language.IsRTL {
		t.Errorf("Expected RTL arabic, got %+v", result.Language)
	}
}

func TestProcessMessageWrongOwner(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)

	conv, err := f.chatService.CreateConversation("alice", "Chat", nil, store.ModeGeneral, nil)
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if _, err := f.chatService.ProcessMessage(ctx, conv.ID, "mallory", "hello"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for wrong owner, got %v", err)
	}
}

func TestCreateConversationInvalidMode(t *testing.T) {
	f := newChatFixture(t)
	if _, err := f.chatService.CreateConversation("alice", "Chat", nil, "telepathy", nil); err == nil {
		t.Error("Expected error for invalid conversation mode")
	}
}

func TestDeleteConversationCascades(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)

	conv, err := f.chatService.CreateConversation("alice", "Chat", nil, store.ModeGeneral, nil)
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if _, err := f.chatService.ProcessMessage(ctx, conv.ID, "alice", "hello"); err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	if err := f.chatService.DeleteConversation(conv.ID, "mallory"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Wrong owner should not delete, got %v", err)
	}
	if err := f.chatService.DeleteConversation(conv.ID, "alice"); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}

	stored, err := f.store.GetConversation(conv.ID)
	if err != nil || stored != nil {
		t.Errorf("Conversation should be gone, got %+v, err %v", stored, err)
	}
	snapshot, err := f.store.LoadMemorySnapshot(conv.ID)
	if err != nil {
		t.Fatalf("LoadMemorySnapshot failed: %v", err)
	}
	if snapshot != nil {
		t.Error("Memory snapshot should be deleted with the conversation")
	}
}

func TestFileDeleteCascadesToIndex(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)

	kept := f.ingestText(t, "kept.txt", "alice", "kept content that stays searchable")
	doomed := f.ingestText(t, "doomed.txt", "alice", "doomed content that disappears")

	if err := f.files.Delete(ctx, doomed.FileID, "mallory"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Wrong owner should not delete, got %v", err)
	}
	if err := f.files.Delete(ctx, doomed.FileID, "alice"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	rec, err := f.store.GetFileByID(doomed.FileID)
	if err != nil || rec != nil {
		t.Errorf("File record should be gone, got %+v, err %v", rec, err)
	}
	chunks, err := f.store.GetChunksByFile(doomed.FileID)
	if err != nil {
		t.Fatalf("GetChunksByFile failed: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("Chunks should be gone, got %d", len(chunks))
	}

	// The index no longer returns the deleted file, and the kept file is
	// still searchable at top rank.
	results, err := f.index.Search(ctx, "doomed content that disappears", 10, nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, r := range results {
		if r.FileID == doomed.FileID {
			t.Errorf("Deleted file still in index: %s", r.ChunkID)
		}
	}
	results, err = f.index.Search(ctx, "kept content that stays searchable", 1, nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].FileID != kept.FileID {
		t.Errorf("Kept file not searchable after rebuild: %+v", results)
	}
}

func TestIngestRejectsUnsupportedAndEmpty(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)

	if _, err := f.files.Ingest(ctx, strings.NewReader("data"), "image.png", "alice"); !errors.Is(err, ErrNoExtractableText) {
		t.Errorf("Expected ErrNoExtractableText for unsupported format, got %v", err)
	}
	if _, err := f.files.Ingest(ctx, strings.NewReader("   \n\t  "), "blank.txt", "alice"); !errors.Is(err, ErrNoExtractableText) {
		t.Errorf("Expected ErrNoExtractableText for blank file, got %v", err)
	}

	// Nothing persisted on rejection.
	recs, err := f.store.GetFilesByOwner("alice")
	if err != nil {
		t.Fatalf("GetFilesByOwner failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("Rejected uploads should leave no records, got %d", len(recs))
	}
	if f.index.Size() != 0 {
		t.Errorf("Rejected uploads should leave the index empty, got %d vectors", f.index.Size())
	}
}

func TestExportConversation(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)

	conv, err := f.chatService.CreateConversation("alice", "Export Me", nil, store.ModeGeneral, nil)
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if _, err := f.chatService.ProcessMessage(ctx, conv.ID, "alice", "hello"); err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	md, err := f.chatService.ExportConversation(conv.ID, "alice", "markdown")
	if err != nil {
		t.Fatalf("Export to markdown failed: %v", err)
	}
	if !strings.HasPrefix(md, "# Export Me\n") {
		t.Errorf("Markdown export missing title: %q", md)
	}
	if !strings.Contains(md, "## User\n\nhello\n") || !strings.Contains(md, "## Assistant\n") {
		t.Errorf("Markdown export missing turns: %q", md)
	}

	html, err := f.chatService.ExportConversation(conv.ID, "alice", "html")
	if err != nil {
		t.Fatalf("Export to html failed: %v", err)
	}
	if !strings.Contains(html, "<h1>Export Me</h1>") || !strings.Contains(html, "<h2>User</h2>") {
		t.Errorf("HTML export malformed: %q", html)
	}

	if _, err := f.chatService.ExportConversation(conv.ID, "alice", "pdf"); err == nil {
		t.Error("Expected error for unsupported export format")
	}
}
