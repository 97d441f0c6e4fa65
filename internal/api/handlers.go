package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"aiapproach.com/chat-service/internal/auth"
	"aiapproach.com/chat-service/internal/core"
	"aiapproach.com/chat-service/internal/store"
	"github.com/go-chi/chi/v5"
)

type contextKey string

const ownerKey contextKey = "owner"

type APIHandler struct {
	chatService *core.ChatService
	fileService *core.FileService
}

func NewAPIHandler(cs *core.ChatService, fs *core.FileService) *APIHandler {
	return &APIHandler{chatService: cs, fileService: fs}
}

// JWTAuthMiddleware resolves the owner identity from the bearer token. The
// core trusts whatever identity arrives here.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		owner, err := auth.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ownerKey, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ownerFrom(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey).(string)
	return owner
}

type TokenRequest struct {
	Username string `json:"username"`
}

// TokenHandler issues a bearer token for the given username. Account
// storage and password checks belong to the excluded auth layer; this
// endpoint stands in for it.
func (h *APIHandler) TokenHandler(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Username == "" {
		http.Error(w, "Username is required", http.StatusBadRequest)
		return
	}

	token, err := auth.GenerateJWT(req.Username)
	if err != nil {
		log.Printf("Error generating JWT for user %s: %v", req.Username, err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// File handlers

func (h *APIHandler) UploadFileHandler(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "A 'file' form field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	rec, err := h.fileService.Ingest(r.Context(), file, header.Filename, owner)
	if err != nil {
		if errors.Is(err, core.ErrNoExtractableText) {
			http.Error(w, "The file contains no extractable text or its format is unsupported", http.StatusBadRequest)
			return
		}
		log.Printf("Error ingesting file %s for %s: %v", header.Filename, owner, err)
		http.Error(w, "Failed to process file", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rec)
}

func (h *APIHandler) ListFilesHandler(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)

	files, err := h.fileService.List(owner)
	if err != nil {
		log.Printf("Error listing files for %s: %v", owner, err)
		http.Error(w, "Failed to list files", http.StatusInternalServerError)
		return
	}
	if files == nil {
		files = []store.FileRecord{}
	}
	json.NewEncoder(w).Encode(files)
}

func (h *APIHandler) DeleteFileHandler(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	fileID := chi.URLParam(r, "fileID")

	if err := h.fileService.Delete(r.Context(), fileID, owner); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		log.Printf("Error deleting file %s for %s: %v", fileID, owner, err)
		http.Error(w, "Failed to delete file", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Conversation handlers

type CreateConversationRequest struct {
	Name                   string   `json:"name"`
	Mode                   string   `json:"mode"`
	FileIDs                []string `json:"files"`
	PreviousConversationID *string  `json:"previous_conversation_id"`
}

func (h *APIHandler) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Mode == "" {
		req.Mode = string(store.ModeGeneral)
	}

	conv, err := h.chatService.CreateConversation(owner, req.Name, req.FileIDs, store.ConversationMode(req.Mode), req.PreviousConversationID)
	if err != nil {
		if strings.Contains(err.Error(), "invalid conversation mode") {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("Error creating conversation for %s: %v", owner, err)
		http.Error(w, "Failed to create conversation", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(conv)
}

func (h *APIHandler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)

	summaries, err := h.chatService.ListConversations(owner)
	if err != nil {
		log.Printf("Error listing conversations for %s: %v", owner, err)
		http.Error(w, "Failed to list conversations", http.StatusInternalServerError)
		return
	}
	if summaries == nil {
		summaries = []store.ConversationSummary{}
	}
	json.NewEncoder(w).Encode(summaries)
}

func (h *APIHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	conversationID := chi.URLParam(r, "conversationID")

	conv, err := h.chatService.GetConversation(conversationID, owner)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		log.Printf("Error getting conversation %s for %s: %v", conversationID, owner, err)
		http.Error(w, "Failed to get conversation", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(conv)
}

type RenameConversationRequest struct {
	Name string `json:"name"`
}

func (h *APIHandler) RenameConversationHandler(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	conversationID := chi.URLParam(r, "conversationID")

	var req RenameConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "Name cannot be empty", http.StatusBadRequest)
		return
	}

	if err := h.chatService.RenameConversation(conversationID, owner, req.Name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		log.Printf("Error renaming conversation %s for %s: %v", conversationID, owner, err)
		http.Error(w, "Failed to rename conversation", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	conversationID := chi.URLParam(r, "conversationID")

	if err := h.chatService.DeleteConversation(conversationID, owner); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		log.Printf("Error deleting conversation %s for %s: %v", conversationID, owner, err)
		http.Error(w, "Failed to delete conversation", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type PostMessageRequest struct {
	Message string `json:"message"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	conversationID := chi.URLParam(r, "conversationID")

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "Message cannot be empty", http.StatusBadRequest)
		return
	}

	result, err := h.chatService.ProcessMessage(r.Context(), conversationID, owner, req.Message)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		log.Printf("Error processing message in conversation %s for %s: %v", conversationID, owner, err)
		http.Error(w, "Failed to process message", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(result)
}

func (h *APIHandler) ExportConversationHandler(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	conversationID := chi.URLParam(r, "conversationID")
	format := r.URL.Query().Get("format")

	content, err := h.chatService.ExportConversation(conversationID, owner, format)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	contentType := "text/markdown; charset=utf-8"
	if format == "html" {
		contentType = "text/html; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.Write([]byte(content))
}
