// Package extract turns uploaded files into per-page text. The rest of the
// system treats it as an opaque collaborator: an empty page sequence means
// the file has no extractable text.
package extract

import (
	"fmt"
	"os"
	"strings"

	"aiapproach.com/chat-service/internal/chunk"
)

// Extractor yields per-page/slide text for a stored file. Implementations
// must return an empty slice (not an error) on total extraction failure so
// the caller can report a user-facing "no extractable text" condition.
type Extractor interface {
	Extract(filePath string, extension string) ([]chunk.Page, error)
}

// SupportedExtensions lists the formats the default extractor handles.
var SupportedExtensions = map[string]bool{
	".pdf": true,
	".txt": true,
	".md":  true,
}

// FileExtractor dispatches on extension.
type FileExtractor struct{}

func NewFileExtractor() *FileExtractor {
	return &FileExtractor{}
}

func (e *FileExtractor) Extract(filePath string, extension string) ([]chunk.Page, error) {
	switch strings.ToLower(extension) {
	case ".pdf":
		return extractPDF(filePath)
	case ".txt", ".md":
		return extractPlainText(filePath)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", extension)
	}
}

// extractPlainText treats the whole file as page 1.
func extractPlainText(filePath string) ([]chunk.Page, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read text file: %w", err)
	}
	text := string(content)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return []chunk.Page{{Number: 1, Text: text}}, nil
}
