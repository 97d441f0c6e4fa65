package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aiapproach.com/chat-service/internal/chunk"
	"aiapproach.com/chat-service/internal/extract"
	"aiapproach.com/chat-service/internal/index"
	"aiapproach.com/chat-service/internal/store"
	"github.com/google/uuid"
)

// ErrNoExtractableText is the ingestion failure for unsupported formats and
// documents that yield no text (e.g. scanned PDFs). Nothing is persisted
// when it is returned.
var ErrNoExtractableText = errors.New("no extractable text in file")

type FileService struct {
	dbStore   *store.SQLiteStore
	vectors   *index.VectorIndex
	extractor extract.Extractor
	chunker   *chunk.Chunker
	filesDir  string
}

func NewFileService(dbStore *store.SQLiteStore, vectors *index.VectorIndex, extractor extract.Extractor, chunker *chunk.Chunker, filesDir string) (*FileService, error) {
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create files dir: %w", err)
	}
	return &FileService{
		dbStore:   dbStore,
		vectors:   vectors,
		extractor: extractor,
		chunker:   chunker,
		filesDir:  filesDir,
	}, nil
}

// Ingest copies the uploaded bytes into storage, extracts and chunks the
// text, persists the chunk set and indexes the embeddings. Any failure
// rolls back every partial write, so a failed upload leaves no trace.
func (s *FileService) Ingest(ctx context.Context, upload io.Reader, originalFilename, owner string) (*store.FileRecord, error) {
	ext := strings.ToLower(filepath.Ext(originalFilename))
	if !extract.SupportedExtensions[ext] {
		return nil, fmt.Errorf("%w: unsupported file format %s", ErrNoExtractableText, ext)
	}

	fileID := uuid.NewString()
	storagePath := filepath.Join(s.filesDir, fileID+ext)

	dst, err := os.Create(storagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to store uploaded file: %w", err)
	}
	if _, err := io.Copy(dst, upload); err != nil {
		dst.Close()
		os.Remove(storagePath)
		return nil, fmt.Errorf("failed to write uploaded file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(storagePath)
		return nil, fmt.Errorf("failed to finalize uploaded file: %w", err)
	}

	pages, err := s.extractor.Extract(storagePath, ext)
	if err != nil {
		os.Remove(storagePath)
		return nil, fmt.Errorf("%w: %v", ErrNoExtractableText, err)
	}
	if len(pages) == 0 {
		os.Remove(storagePath)
		return nil, ErrNoExtractableText
	}

	chunks := s.chunker.Split(pages, fileID)
	if len(chunks) == 0 {
		os.Remove(storagePath)
		return nil, ErrNoExtractableText
	}

	rec := &store.FileRecord{
		FileID:      fileID,
		Filename:    originalFilename,
		Extension:   ext,
		UploadDate:  time.Now(),
		Owner:       owner,
		StoragePath: storagePath,
		ChunkCount:  len(chunks),
	}
	if err := s.dbStore.SaveFile(rec, chunks); err != nil {
		os.Remove(storagePath)
		return nil, fmt.Errorf("failed to persist file %s: %w", fileID, err)
	}

	if err := s.vectors.Add(ctx, chunks, fileID); err != nil {
		// Roll back the persisted record and chunk set; the index was not
		// modified on failure.
		if derr := s.dbStore.DeleteFile(fileID); derr != nil {
			log.Printf("Error rolling back file %s after index failure: %v", fileID, derr)
		}
		os.Remove(storagePath)
		return nil, fmt.Errorf("failed to index file %s: %w", fileID, err)
	}

	log.Printf("Ingested file %s (%s) for %s: %d chunks", fileID, originalFilename, owner, len(chunks))
	return rec, nil
}

// List returns the owner's file records.
func (s *FileService) List(owner string) ([]store.FileRecord, error) {
	return s.dbStore.GetFilesByOwner(owner)
}

// Delete cascades: stored bytes, chunk set, file record, then the vector
// index entries via a full rebuild from the surviving files.
func (s *FileService) Delete(ctx context.Context, fileID, owner string) error {
	rec, err := s.dbStore.GetFileByID(fileID)
	if err != nil {
		return err
	}
	if rec == nil || rec.Owner != owner {
		return store.ErrNotFound
	}

	if err := os.Remove(rec.StoragePath); err != nil && !os.IsNotExist(err) {
		log.Printf("Error removing stored bytes for file %s: %v", fileID, err)
	}

	if err := s.dbStore.DeleteFile(fileID); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", fileID, err)
	}

	if err := s.vectors.RemoveBySource(ctx, fileID, s.dbStore); err != nil {
		return fmt.Errorf("failed to remove file %s from index: %w", fileID, err)
	}

	log.Printf("Deleted file %s (%s) for %s", fileID, rec.Filename, owner)
	return nil
}
