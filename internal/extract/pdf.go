package extract

import (
	"bytes"
	"fmt"
	"log"
	"os"

	"aiapproach.com/chat-service/internal/chunk"
	"github.com/ledongthuc/pdf"
)

// pdfSizeCap bounds in-memory extraction.
const pdfSizeCap = 200 << 20

func extractPDF(filePath string) ([]chunk.Page, error) {
	stat, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat PDF file: %w", err)
	}
	if stat.Size() > pdfSizeCap {
		return nil, fmt.Errorf("pdf too large for in-memory extraction")
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF file: %w", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF reader: %w", err)
	}

	var pages []chunk.Page
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			log.Printf("Warning: failed to extract text from page %d of %s: %v", i, filePath, err)
			continue
		}
		if len(bytes.TrimSpace([]byte(text))) == 0 {
			continue
		}

		pages = append(pages, chunk.Page{Number: i, Text: text})
	}

	// An empty result is not an error: the caller treats it as a scanned or
	// otherwise unreadable document.
	return pages, nil
}
