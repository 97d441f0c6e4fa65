package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"aiapproach.com/chat-service/internal/api"
	"aiapproach.com/chat-service/internal/chunk"
	"aiapproach.com/chat-service/internal/config"
	"aiapproach.com/chat-service/internal/core"
	"aiapproach.com/chat-service/internal/extract"
	"aiapproach.com/chat-service/internal/index"
	"aiapproach.com/chat-service/internal/store"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if config.AppConfig.LogLevel == "DEBUG" {
		log.Println("Service starting in DEBUG mode")
	}

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	// Initialize LLM service
	llmService := core.NewLLMService()
	defer llmService.Close()

	// Initialize vector index; a desynced snapshot pair is rebuilt from the
	// persisted chunk collections before the service accepts traffic.
	vectorsDir := filepath.Join(config.AppConfig.DataDir, "vectors")
	vectorIndex, err := index.New(vectorsDir, llmService)
	if err != nil {
		log.Fatalf("Failed to initialize vector index: %v", err)
	}
	if vectorIndex.Desynced() {
		log.Println("Vector index is out of sync with its mapping, rebuilding from chunk collections...")
		if err := vectorIndex.Rebuild(context.Background(), dbStore); err != nil {
			log.Fatalf("Failed to rebuild vector index: %v", err)
		}
		log.Printf("Vector index rebuilt with %d vectors", vectorIndex.Size())
	} else {
		log.Printf("Vector index loaded with %d vectors", vectorIndex.Size())
	}

	// Initialize core services
	chunker := chunk.NewChunker(config.AppConfig.ChunkTargetSize)
	extractor := extract.NewFileExtractor()
	filesDir := filepath.Join(config.AppConfig.DataDir, "files")
	fileService, err := core.NewFileService(dbStore, vectorIndex, extractor, chunker, filesDir)
	if err != nil {
		log.Fatalf("Failed to initialize file service: %v", err)
	}

	memories := core.NewMemoryManager(dbStore)
	assembler := core.NewContextAssembler(dbStore, vectorIndex, config.AppConfig.RetrievalTopK)
	chatService := core.NewChatService(dbStore, assembler, memories, llmService)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(chatService, fileService)
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // completion + embedding calls can take time
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting gracefully")
}
