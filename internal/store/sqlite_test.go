package store

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testFile(fileID, owner string) (*FileRecord, []Chunk) {
	rec := &FileRecord{
		FileID:      fileID,
		Filename:    "report.pdf",
		Extension:   ".pdf",
		UploadDate:  time.Now(),
		Owner:       owner,
		StoragePath: "/tmp/" + fileID + ".pdf",
		ChunkCount:  2,
	}
	chunks := []Chunk{
		{ChunkID: fileID + "_1", FileID: fileID, Page: 1, Content: "first chunk"},
		{ChunkID: fileID + "_2", FileID: fileID, Page: 2, Content: "second chunk"},
	}
	return rec, chunks
}

func TestSaveAndGetFile(t *testing.T) {
	s := newTestStore(t)
	rec, chunks := testFile("f1", "alice")

	if err := s.SaveFile(rec, chunks); err != nil {
		t.Fatalf("SaveFile failed: %v", err)
	}

	got, err := s.GetFileByID("f1")
	if err != nil {
		t.Fatalf("GetFileByID failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected file record, got nil")
	}
	if got.Filename != "report.pdf" || got.Owner != "alice" || got.ChunkCount != 2 {
		t.Errorf("Unexpected record: %+v", got)
	}

	stored, err := s.GetChunksByFile("f1")
	if err != nil {
		t.Fatalf("GetChunksByFile failed: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(stored))
	}
	if stored[0].ChunkID != "f1_1" || stored[1].ChunkID != "f1_2" {
		t.Errorf("Chunks out of order: %s, %s", stored[0].ChunkID, stored[1].ChunkID)
	}

	chunk, err := s.GetChunkByID("f1_2")
	if err != nil {
		t.Fatalf("GetChunkByID failed: %v", err)
	}
	if chunk == nil || chunk.Content != "second chunk" || chunk.Page != 2 {
		t.Errorf("Unexpected chunk: %+v", chunk)
	}
}

func TestGetFileNotFound(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetFileByID("missing")
	if err != nil {
		t.Fatalf("GetFileByID failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for missing file, got %+v", got)
	}
}

func TestDeleteFileCascadesToChunks(t *testing.T) {
	s := newTestStore(t)
	rec, chunks := testFile("f1", "alice")
	if err := s.SaveFile(rec, chunks); err != nil {
		t.Fatalf("SaveFile failed: %v", err)
	}

	if err := s.DeleteFile("f1"); err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}

	got, err := s.GetFileByID("f1")
	if err != nil || got != nil {
		t.Errorf("File record should be gone, got %+v, err %v", got, err)
	}
	stored, err := s.GetChunksByFile("f1")
	if err != nil {
		t.Fatalf("GetChunksByFile failed: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("Chunks should be gone, got %d", len(stored))
	}

	if err := s.DeleteFile("f1"); err != ErrNotFound {
		t.Errorf("Second delete should return ErrNotFound, got %v", err)
	}
}

func TestListFileIDsExcludes(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"f1", "f2", "f3"} {
		rec, chunks := testFile(id, "alice")
		if err := s.SaveFile(rec, chunks); err != nil {
			t.Fatalf("SaveFile %s failed: %v", id, err)
		}
	}

	ids, err := s.ListFileIDs("f2")
	if err != nil {
		t.Fatalf("ListFileIDs failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("Expected 2 ids, got %d", len(ids))
	}
	for _, id := range ids {
		if id == "f2" {
			t.Error("Excluded id returned")
		}
	}
}

func TestConversationCRUD(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	conv := &Conversation{
		ID:        "c1",
		Owner:     "alice",
		Name:      "New Conversation",
		CreatedAt: now,
		UpdatedAt: now,
		Mode:      ModeSingleFile,
		FileIDs:   []string{"f1"},
	}

	if err := s.CreateConversation(conv); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	got, err := s.GetConversation("c1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected conversation, got nil")
	}
	if got.Mode != ModeSingleFile || len(got.FileIDs) != 1 || got.FileIDs[0] != "f1" {
		t.Errorf("Unexpected conversation: %+v", got)
	}
	if got.PreviousConversationID != nil {
		t.Errorf("Expected no previous conversation, got %v", *got.PreviousConversationID)
	}

	if err := s.AppendMessages("c1",
		ChatMessage{Role: "user", Content: "hello", Timestamp: time.Now()},
		ChatMessage{Role: "assistant", Content: "hi there", Timestamp: time.Now()},
	); err != nil {
		t.Fatalf("AppendMessages failed: %v", err)
	}

	got, err = s.GetConversation("c1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(got.Messages))
	}
	if got.Messages[0].Role != "user" || got.Messages[1].Role != "assistant" {
		t.Errorf("Messages out of order: %+v", got.Messages)
	}

	if err := s.UpdateConversationName("c1", "Renamed"); err != nil {
		t.Fatalf("UpdateConversationName failed: %v", err)
	}
	got, _ = s.GetConversation("c1")
	if got.Name != "Renamed" {
		t.Errorf("Expected renamed conversation, got %s", got.Name)
	}

	if err := s.DeleteConversation("c1"); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}
	got, err = s.GetConversation("c1")
	if err != nil || got != nil {
		t.Errorf("Conversation should be gone, got %+v, err %v", got, err)
	}
	if err := s.DeleteConversation("c1"); err != ErrNotFound {
		t.Errorf("Second delete should return ErrNotFound, got %v", err)
	}
}

func TestConversationSummariesPerOwner(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	prev := "c0"
	for _, c := range []*Conversation{
		{ID: "c1", Owner: "alice", Name: "A", CreatedAt: now, UpdatedAt: now, Mode: ModeGeneral, FileIDs: []string{}},
		{ID: "c2", Owner: "alice", Name: "B", CreatedAt: now, UpdatedAt: now.Add(time.Minute), Mode: ModeFullLibrary, FileIDs: []string{}, PreviousConversationID: &prev},
		{ID: "c3", Owner: "bob", Name: "C", CreatedAt: now, UpdatedAt: now, Mode: ModeGeneral, FileIDs: []string{}},
	} {
		if err := s.CreateConversation(c); err != nil {
			t.Fatalf("CreateConversation %s failed: %v", c.ID, err)
		}
	}

	summaries, err := s.GetConversationsByOwner("alice")
	if err != nil {
		t.Fatalf("GetConversationsByOwner failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("Expected 2 summaries for alice, got %d", len(summaries))
	}
	// Most recently updated first.
	if summaries[0].ID != "c2" {
		t.Errorf("Expected c2 first, got %s", summaries[0].ID)
	}
	if summaries[0].PreviousConversationID == nil || *summaries[0].PreviousConversationID != "c0" {
		t.Errorf("Expected previous conversation c0, got %v", summaries[0].PreviousConversationID)
	}
}

func TestMemorySnapshots(t *testing.T) {
	s := newTestStore(t)

	data, err := s.LoadMemorySnapshot("c1")
	if err != nil {
		t.Fatalf("LoadMemorySnapshot failed: %v", err)
	}
	if data != nil {
		t.Errorf("Expected nil snapshot for unknown conversation, got %q", data)
	}

	if err := s.SaveMemorySnapshot("c1", []byte(`{"version":1,"messages":[]}`)); err != nil {
		t.Fatalf("SaveMemorySnapshot failed: %v", err)
	}
	if err := s.SaveMemorySnapshot("c1", []byte(`{"version":1,"messages":[{"role":"user","content":"hi"}]}`)); err != nil {
		t.Fatalf("SaveMemorySnapshot upsert failed: %v", err)
	}

	data, err = s.LoadMemorySnapshot("c1")
	if err != nil {
		t.Fatalf("LoadMemorySnapshot failed: %v", err)
	}
	if string(data) != `{"version":1,"messages":[{"role":"user","content":"hi"}]}` {
		t.Errorf("Unexpected snapshot: %s", data)
	}

	if err := s.DeleteMemorySnapshot("c1"); err != nil {
		t.Fatalf("DeleteMemorySnapshot failed: %v", err)
	}
	data, _ = s.LoadMemorySnapshot("c1")
	if data != nil {
		t.Errorf("Snapshot should be gone, got %q", data)
	}
}
