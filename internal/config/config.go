package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	GeminiAPIKey      string
	DataDir           string
	DatabaseURL       string
	HTTPPort          string
	LogLevel          string
	JWTSecret         string
	RetrievalTopK     int
	ChunkTargetSize   int
	CompletionTimeout int // seconds
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		DataDir:           getEnv("DATA_DIR", "data"),
		DatabaseURL:       getEnv("DATABASE_URL", "approach_chat.db"),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		RetrievalTopK:     getEnvAsInt("RETRIEVAL_TOP_K", 5),
		ChunkTargetSize:   getEnvAsInt("CHUNK_TARGET_SIZE", 1000),
		CompletionTimeout: getEnvAsInt("COMPLETION_TIMEOUT_SECONDS", 60),
	}

	if AppConfig.GeminiAPIKey == "" {
		log.Fatal("GEMINI_API_KEY environment variable is required")
	}

	if AppConfig.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
