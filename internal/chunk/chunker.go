// Package chunk splits extracted page text into bounded, coherent segments
// for embedding and retrieval.
package chunk

import (
	"fmt"
	"strings"

	"aiapproach.com/chat-service/internal/store"
)

// DefaultTargetSize is the target characters per chunk.
const DefaultTargetSize = 1000

// Page is one page or slide of extracted text, as produced by the extractor.
type Page struct {
	Number int // 1-based
	Text   string
}

type Chunker struct {
	targetSize int
}

func NewChunker(targetSize int) *Chunker {
	if targetSize <= 0 {
		targetSize = DefaultTargetSize
	}
	return &Chunker{targetSize: targetSize}
}

// Split accumulates paragraphs into chunks of roughly targetSize characters.
// A chunk never spans page boundaries. Chunk ids are {sourceID}_{n} with n
// counting from 1 across the whole document.
func (c *Chunker) Split(pages []Page, sourceID string) []store.Chunk {
	var chunks []store.Chunk
	seq := 0

	flush := func(buf *strings.Builder, page int) {
		content := strings.TrimSpace(buf.String())
		if content == "" {
			return
		}
		seq++
		chunks = append(chunks, store.Chunk{
			ChunkID: fmt.Sprintf("%s_%d", sourceID, seq),
			FileID:  sourceID,
			Page:    page,
			Content: content,
		})
		buf.Reset()
	}

	for _, page := range pages {
		paragraphs := strings.Split(page.Text, "\n\n")

		var buf strings.Builder
		bufSize := 0
		for _, paragraph := range paragraphs {
			paragraph = strings.TrimSpace(paragraph)
			if paragraph == "" {
				continue
			}

			// Flush before a paragraph that would push the buffer past the
			// target, but only if something is buffered already: a single
			// oversized paragraph still becomes its own chunk.
			if bufSize+len(paragraph) > c.targetSize && buf.Len() > 0 {
				flush(&buf, page.Number)
				bufSize = 0
			}
			buf.WriteString(paragraph)
			buf.WriteString("\n")
			bufSize += len(paragraph)
		}

		flush(&buf, page.Number)
	}

	return chunks
}
