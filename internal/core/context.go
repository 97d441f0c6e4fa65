package core

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"aiapproach.com/chat-service/internal/index"
	"aiapproach.com/chat-service/internal/store"
)

// DefaultTopK is how many chunks a retrieval returns unless configured.
const DefaultTopK = 5

// RetrievedChunk is a search hit hydrated with its content and file
// metadata, ready for prompt formatting and citation.
type RetrievedChunk struct {
	ChunkID  string  `json:"chunk_id"`
	FileID   string  `json:"file_id"`
	Filename string  `json:"filename"`
	Page     int     `json:"page"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
}

// ContextAssembler selects relevant chunks per chat mode, renders them as
// grounding context, builds the completion prompt and appends citations to
// the answer.
type ContextAssembler struct {
	dbStore *store.SQLiteStore
	vectors *index.VectorIndex
	topK    int
}

func NewContextAssembler(dbStore *store.SQLiteStore, vectors *index.VectorIndex, topK int) *ContextAssembler {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &ContextAssembler{
		dbStore: dbStore,
		vectors: vectors,
		topK:    topK,
	}
}

// SelectContext dispatches on the conversation mode: general retrieves
// nothing, file-scoped modes search within the conversation's file set and
// full_library searches everything the owner has indexed.
func (a *ContextAssembler) SelectContext(ctx context.Context, query string, conv *store.Conversation) ([]RetrievedChunk, error) {
	var results []index.SearchResult
	var err error

	switch conv.Mode {
	case store.ModeGeneral:
		return nil, nil

	case store.ModeSingleFile, store.ModeMultiFile:
		if len(conv.FileIDs) == 0 {
			return nil, nil
		}
		results, err = a.vectors.Search(ctx, query, a.topK, conv.FileIDs)

	case store.ModeFullLibrary:
		ownerFiles, ferr := a.dbStore.GetFilesByOwner(conv.Owner)
		if ferr != nil {
			return nil, fmt.Errorf("failed to list owner files: %w", ferr)
		}
		if len(ownerFiles) == 0 {
			return nil, nil
		}
		fileIDs := make([]string, len(ownerFiles))
		for i, rec := range ownerFiles {
			fileIDs[i] = rec.FileID
		}
		results, err = a.vectors.Search(ctx, query, a.topK, fileIDs)

	default:
		return nil, fmt.Errorf("unknown conversation mode: %s", conv.Mode)
	}

	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	return a.hydrate(results), nil
}

// hydrate resolves search hits to chunk content and file metadata. Hits
// whose chunk or file has vanished are skipped rather than failing the
// whole retrieval.
func (a *ContextAssembler) hydrate(results []index.SearchResult) []RetrievedChunk {
	var chunks []RetrievedChunk
	for _, result := range results {
		rec, err := a.dbStore.GetFileByID(result.FileID)
		if err != nil || rec == nil {
			if err != nil {
				log.Printf("Error loading file %s for retrieved chunk: %v", result.FileID, err)
			}
			continue
		}
		chunk, err := a.dbStore.GetChunkByID(result.ChunkID)
		if err != nil || chunk == nil {
			if err != nil {
				log.Printf("Error loading chunk %s: %v", result.ChunkID, err)
			}
			continue
		}
		chunks = append(chunks, RetrievedChunk{
			ChunkID:  chunk.ChunkID,
			FileID:   chunk.FileID,
			Filename: rec.Filename,
			Page:     chunk.Page,
			Content:  chunk.Content,
			Score:    result.Score,
		})
	}
	return chunks
}

// FormatContext renders retrieved chunks as the grounding block of the
// prompt, in retrieval rank order.
func (a *ContextAssembler) FormatContext(chunks []RetrievedChunk) string {
	if len(chunks) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("### Reference Information:\n\n")
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "Source %d: %s, Page %d\n", i+1, chunk.Filename, chunk.Page)
		fmt.Fprintf(&b, "```\n%s\n```\n\n", chunk.Content)
	}
	return b.String()
}

// SystemPreamble builds the mode-dependent instruction block. File-scoped
// modes name the files and require the model to answer only from the
// provided context.
func (a *ContextAssembler) SystemPreamble(conv *store.Conversation, owner string) string {
	var b strings.Builder
	b.WriteString("You are AI Approach Chat, a helpful and knowledgeable assistant. ")
	fmt.Fprintf(&b, "The user's name is %s. ", owner)

	if conv.Mode == store.ModeGeneral {
		return b.String()
	}

	var fileNames []string
	for _, fileID := range conv.FileIDs {
		rec, err := a.dbStore.GetFileByID(fileID)
		if err != nil {
			log.Printf("Error loading file %s for system preamble: %v", fileID, err)
			continue
		}
		if rec != nil {
			fileNames = append(fileNames, rec.Filename)
		}
	}
	if len(fileNames) > 0 {
		fmt.Fprintf(&b, "This conversation is about the following files: %s. ", strings.Join(fileNames, ", "))
	}

	b.WriteString("Base your response primarily on the provided reference information. " +
		"If the reference information doesn't contain the answer, clearly state that " +
		"you don't have enough information to answer accurately based on the provided documents. " +
		"Format your response in Markdown.")
	return b.String()
}

// BuildPrompt concatenates preamble, context block, the memory rendered as
// Role: content lines, then the new user turn and an assistant marker.
func (a *ContextAssembler) BuildPrompt(systemPreamble, contextBlock string, memory *Memory, userMessage string) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\n")

	if contextBlock != "" {
		b.WriteString(contextBlock)
		b.WriteString("\n\n")
	}

	for _, msg := range memory.Messages {
		switch msg.Role {
		case RoleUser:
			fmt.Fprintf(&b, "User: %s\n", msg.Content)
		case RoleAssistant:
			fmt.Fprintf(&b, "Assistant: %s\n", msg.Content)
		case RoleSystem:
			fmt.Fprintf(&b, "System: %s\n", msg.Content)
		}
	}

	fmt.Fprintf(&b, "User: %s\nAssistant:", userMessage)
	return b.String()
}

// AttachCitations appends a sources section listing each distinct file in
// first-seen order with its contributing pages deduplicated and sorted.
func (a *ContextAssembler) AttachCitations(answer string, chunks []RetrievedChunk) string {
	if len(chunks) == 0 {
		return answer
	}

	type source struct {
		filename string
		pages    map[int]bool
	}
	var order []string
	sources := make(map[string]*source)

	for _, chunk := range chunks {
		src, ok := sources[chunk.FileID]
		if !ok {
			src = &source{filename: chunk.Filename, pages: make(map[int]bool)}
			sources[chunk.FileID] = src
			order = append(order, chunk.FileID)
		}
		src.pages[chunk.Page] = true
	}

	var b strings.Builder
	b.WriteString(answer)
	b.WriteString("\n\n### Sources:\n")
	for _, fileID := range order {
		src := sources[fileID]
		pages := make([]int, 0, len(src.pages))
		for p := range src.pages {
			pages = append(pages, p)
		}
		sort.Ints(pages)
		pageStrs := make([]string, len(pages))
		for i, p := range pages {
			pageStrs[i] = fmt.Sprintf("%d", p)
		}
		fmt.Fprintf(&b, "- %s (Pages: %s)\n", src.filename, strings.Join(pageStrs, ", "))
	}
	return b.String()
}
