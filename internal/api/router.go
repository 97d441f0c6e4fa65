package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/token", apiHandler.TokenHandler)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// Owner-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			// File routes
			r.Post("/files", apiHandler.UploadFileHandler)
			r.Get("/files", apiHandler.ListFilesHandler)
			r.Delete("/files/{fileID}", apiHandler.DeleteFileHandler)

			// Conversation routes
			r.Post("/conversations", apiHandler.CreateConversationHandler)
			r.Get("/conversations", apiHandler.ListConversationsHandler)
			r.Get("/conversations/{conversationID}", apiHandler.GetConversationHandler)
			r.Patch("/conversations/{conversationID}", apiHandler.RenameConversationHandler)
			r.Delete("/conversations/{conversationID}", apiHandler.DeleteConversationHandler)
			r.Post("/conversations/{conversationID}/messages", apiHandler.PostMessageHandler)
			r.Get("/conversations/{conversationID}/export", apiHandler.ExportConversationHandler)
		})
	})

	return r
}
