package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// ErrNotFound is returned when a file or conversation id does not exist.
var ErrNotFound = errors.New("not found")

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS files (
        file_id TEXT PRIMARY KEY, -- UUID
        filename TEXT NOT NULL,
        extension TEXT NOT NULL,
        upload_date DATETIME NOT NULL,
        owner TEXT NOT NULL,
        storage_path TEXT NOT NULL,
        chunk_count INTEGER NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_files_owner ON files (owner);

    CREATE TABLE IF NOT EXISTS chunks (
        chunk_id TEXT PRIMARY KEY, -- {file_id}_{sequence}
        file_id TEXT NOT NULL,
        seq INTEGER NOT NULL,
        page INTEGER NOT NULL,
        content TEXT NOT NULL,
        FOREIGN KEY (file_id) REFERENCES files (file_id)
    );
    CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks (file_id, seq);

    CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY, -- UUID
        owner TEXT NOT NULL,
        name TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL,
        mode TEXT NOT NULL CHECK (mode IN ('general', 'single_file', 'multi_file', 'full_library')),
        file_ids TEXT NOT NULL, -- JSON array of file ids
        previous_conversation_id TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations (owner);

    CREATE TABLE IF NOT EXISTS messages (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        conversation_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        timestamp DATETIME NOT NULL,
        FOREIGN KEY (conversation_id) REFERENCES conversations (id)
    );
    CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, seq);

    CREATE TABLE IF NOT EXISTS memories (
        conversation_id TEXT PRIMARY KEY,
        snapshot TEXT NOT NULL
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// File methods

// SaveFile stores a file record together with its chunk set in one
// transaction, so a crash cannot leave a record without chunks.
func (s *SQLiteStore) SaveFile(rec *FileRecord, chunks []Chunk) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin file insert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO files (file_id, filename, extension, upload_date, owner, storage_path, chunk_count) VALUES (?, ?, ?, ?, ?, ?, ?)",
		rec.FileID, rec.Filename, rec.Extension, rec.UploadDate, rec.Owner, rec.StoragePath, rec.ChunkCount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert file record: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO chunks (chunk_id, file_id, seq, page, content) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for i, chunk := range chunks {
		if _, err := stmt.Exec(chunk.ChunkID, chunk.FileID, i+1, chunk.Page, chunk.Content); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", chunk.ChunkID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetFileByID(fileID string) (*FileRecord, error) {
	var rec FileRecord
	err := s.db.QueryRow(
		"SELECT file_id, filename, extension, upload_date, owner, storage_path, chunk_count FROM files WHERE file_id = ?",
		fileID,
	).Scan(&rec.FileID, &rec.Filename, &rec.Extension, &rec.UploadDate, &rec.Owner, &rec.StoragePath, &rec.ChunkCount)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // File not found
		}
		return nil, fmt.Errorf("failed to query file: %w", err)
	}
	return &rec, nil
}

func (s *SQLiteStore) GetFilesByOwner(owner string) ([]FileRecord, error) {
	rows, err := s.db.Query(
		"SELECT file_id, filename, extension, upload_date, owner, storage_path, chunk_count FROM files WHERE owner = ? ORDER BY upload_date ASC, file_id ASC",
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var records []FileRecord
	for rows.Next() {
		var rec FileRecord
		if err := rows.Scan(&rec.FileID, &rec.Filename, &rec.Extension, &rec.UploadDate, &rec.Owner, &rec.StoragePath, &rec.ChunkCount); err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListFileIDs returns every stored file id except the excluded one, in
// upload order. The vector index rebuild iterates files in this order.
func (s *SQLiteStore) ListFileIDs(excludeFileID string) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT file_id FROM files WHERE file_id != ? ORDER BY upload_date ASC, file_id ASC",
		excludeFileID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query file ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan file id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) DeleteFile(fileID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin file delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM chunks WHERE file_id = ?", fileID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	res, err := tx.Exec("DELETE FROM files WHERE file_id = ?", fileID)
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// Chunk methods

func (s *SQLiteStore) GetChunksByFile(fileID string) ([]Chunk, error) {
	rows, err := s.db.Query(
		"SELECT chunk_id, file_id, page, content FROM chunks WHERE file_id = ? ORDER BY seq ASC",
		fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var chunk Chunk
		if err := rows.Scan(&chunk.ChunkID, &chunk.FileID, &chunk.Page, &chunk.Content); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStore) GetChunkByID(chunkID string) (*Chunk, error) {
	var chunk Chunk
	err := s.db.QueryRow(
		"SELECT chunk_id, file_id, page, content FROM chunks WHERE chunk_id = ?",
		chunkID,
	).Scan(&chunk.ChunkID, &chunk.FileID, &chunk.Page, &chunk.Content)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query chunk: %w", err)
	}
	return &chunk, nil
}

// Conversation methods

func (s *SQLiteStore) CreateConversation(conv *Conversation) error {
	fileIDs, err := json.Marshal(conv.FileIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal file ids: %w", err)
	}

	_, err = s.db.Exec(
		"INSERT INTO conversations (id, owner, name, created_at, updated_at, mode, file_ids, previous_conversation_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		conv.ID, conv.Owner, conv.Name, conv.CreatedAt, conv.UpdatedAt, string(conv.Mode), string(fileIDs), conv.PreviousConversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

// GetConversation loads a conversation including its full transcript.
func (s *SQLiteStore) GetConversation(conversationID string) (*Conversation, error) {
	var conv Conversation
	var mode, fileIDs string
	var prev sql.NullString
	err := s.db.QueryRow(
		"SELECT id, owner, name, created_at, updated_at, mode, file_ids, previous_conversation_id FROM conversations WHERE id = ?",
		conversationID,
	).Scan(&conv.ID, &conv.Owner, &conv.Name, &conv.CreatedAt, &conv.UpdatedAt, &mode, &fileIDs, &prev)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	conv.Mode = ConversationMode(mode)
	if prev.Valid {
		conv.PreviousConversationID = &prev.String
	}
	if err := json.Unmarshal([]byte(fileIDs), &conv.FileIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal file ids for conversation %s: %w", conversationID, err)
	}

	messages, err := s.getMessages(conversationID)
	if err != nil {
		return nil, err
	}
	conv.Messages = messages
	return &conv, nil
}

func (s *SQLiteStore) getMessages(conversationID string) ([]ChatMessage, error) {
	rows, err := s.db.Query(
		"SELECT role, content, timestamp FROM messages WHERE conversation_id = ? ORDER BY seq ASC",
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		var msg ChatMessage
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// GetConversationsByOwner lists summaries only; transcripts stay on disk.
func (s *SQLiteStore) GetConversationsByOwner(owner string) ([]ConversationSummary, error) {
	rows, err := s.db.Query(
		"SELECT id, name, created_at, updated_at, mode, file_ids, previous_conversation_id FROM conversations WHERE owner = ? ORDER BY updated_at DESC",
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var summaries []ConversationSummary
	for rows.Next() {
		var sum ConversationSummary
		var mode, fileIDs string
		var prev sql.NullString
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.CreatedAt, &sum.UpdatedAt, &mode, &fileIDs, &prev); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		sum.Mode = ConversationMode(mode)
		if prev.Valid {
			sum.PreviousConversationID = &prev.String
		}
		if err := json.Unmarshal([]byte(fileIDs), &sum.FileIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal file ids for conversation %s: %w", sum.ID, err)
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

func (s *SQLiteStore) UpdateConversationName(conversationID string, name string) error {
	res, err := s.db.Exec(
		"UPDATE conversations SET name = ?, updated_at = ? WHERE id = ?",
		name, time.Now(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation name: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessages adds messages to the transcript in order and bumps the
// conversation's updated_at, all in one transaction.
func (s *SQLiteStore) AppendMessages(conversationID string, messages ...ChatMessage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin message append: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO messages (conversation_id, role, content, timestamp) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	for _, msg := range messages {
		if _, err := stmt.Exec(conversationID, msg.Role, msg.Content, msg.Timestamp); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	res, err := tx.Exec("UPDATE conversations SET updated_at = ? WHERE id = ?", time.Now(), conversationID)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

func (s *SQLiteStore) DeleteConversation(conversationID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin conversation delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", conversationID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM memories WHERE conversation_id = ?", conversationID); err != nil {
		return fmt.Errorf("failed to delete memory snapshot: %w", err)
	}

	res, err := tx.Exec("DELETE FROM conversations WHERE id = ?", conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// Memory snapshot methods

func (s *SQLiteStore) SaveMemorySnapshot(conversationID string, snapshot []byte) error {
	_, err := s.db.Exec(
		"INSERT INTO memories (conversation_id, snapshot) VALUES (?, ?) ON CONFLICT(conversation_id) DO UPDATE SET snapshot = excluded.snapshot",
		conversationID, string(snapshot),
	)
	if err != nil {
		return fmt.Errorf("failed to save memory snapshot: %w", err)
	}
	return nil
}

// LoadMemorySnapshot returns nil with no error when no snapshot exists.
func (s *SQLiteStore) LoadMemorySnapshot(conversationID string) ([]byte, error) {
	var snapshot string
	err := s.db.QueryRow("SELECT snapshot FROM memories WHERE conversation_id = ?", conversationID).Scan(&snapshot)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query memory snapshot: %w", err)
	}
	return []byte(snapshot), nil
}

func (s *SQLiteStore) DeleteMemorySnapshot(conversationID string) error {
	if _, err := s.db.Exec("DELETE FROM memories WHERE conversation_id = ?", conversationID); err != nil {
		return fmt.Errorf("failed to delete memory snapshot: %w", err)
	}
	return nil
}
