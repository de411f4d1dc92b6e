package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr  string
	Debug     bool
	SecretKey string

	// chat
	MaxChatHistory        int
	ChatContextWindowSize int
	DefaultRole           string
	RolesFile             string

	// AI provider
	AIProvider        string
	GeminiBaseURL     string
	GeminiAPIKey      string
	GeminiModel       string
	OllamaBaseURL     string
	OllamaModel       string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterSiteURL string
	OpenRouterAppName string

	// session store: memory | redis | db
	SessionBackend string
	SessionTTL     time.Duration
	DBDSN          string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	// rabbitMQ, publishing is disabled when RabbitURL is empty
	RabbitURL   string
	RabbitQueue string

	LogDir      string
	LogLevel    string
	CORSOrigins []string
}

func Load() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":5000"
	}

	secret := os.Getenv("SECRET_KEY")
	if secret == "" {
		secret = "dev-secret-change-me"
	}

	maxHistory := 50
	if v := os.Getenv("MAX_CHAT_HISTORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxHistory = n
		}
	}

	windowSize := 10
	if v := os.Getenv("CHAT_CONTEXT_WINDOW_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			windowSize = n
		}
	}

	defaultRole := os.Getenv("DEFAULT_AI_ROLE")
	if defaultRole == "" {
		defaultRole = DefaultRoleID
	}

	// AI provider config
	aiProvider := os.Getenv("AI_PROVIDER")
	if aiProvider == "" {
		aiProvider = "gemini"
	}

	geminiAPIKey := os.Getenv("GEMINI_API_KEY")
	if geminiAPIKey == "" {
		geminiAPIKey = os.Getenv("GOOGLE_API_KEY")
	}
	geminiModel := os.Getenv("GEMINI_MODEL")
	if geminiModel == "" {
		geminiModel = "gemini-1.5-flash"
	}

	ollamaBaseURL := os.Getenv("OLLAMA_BASE_URL")
	if ollamaBaseURL == "" {
		ollamaBaseURL = "http://localhost:11434"
	}
	ollamaModel := os.Getenv("OLLAMA_MODEL")
	if ollamaModel == "" {
		ollamaModel = "llama3:latest"
	}

	openRouterBaseURL := os.Getenv("OPENROUTER_BASE_URL")
	if openRouterBaseURL == "" {
		openRouterBaseURL = "https://openrouter.ai/api/v1"
	}
	openRouterModel := os.Getenv("OPENROUTER_MODEL")
	if openRouterModel == "" {
		openRouterModel = "openrouter/auto"
	}

	backend := strings.ToLower(os.Getenv("SESSION_BACKEND"))
	if backend == "" {
		backend = "memory"
	}

	sessionTTL := 24 * time.Hour
	if v := os.Getenv("SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			sessionTTL = d
		}
	}

	// DSN demo：
	// app:apppass@tcp(127.0.0.1:3306)/gemini_chat?charset=utf8mb4&parseTime=true&loc=Local
	// file:chat.db?_pragma=busy_timeout(5000)
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = "file:chat.db"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "127.0.0.1:6379"
	}
	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			redisDB = n
		}
	}

	rabbitQueue := os.Getenv("RABBIT_QUEUE")
	if rabbitQueue == "" {
		rabbitQueue = "chat_exchanges"
	}

	logDir := os.Getenv("LOG_DIR")
	if logDir == "" {
		logDir = "logs"
	}

	var origins []string
	for _, o := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return Config{
		HTTPAddr:  addr,
		Debug:     envBool("DEBUG"),
		SecretKey: secret,

		MaxChatHistory:        maxHistory,
		ChatContextWindowSize: windowSize,
		DefaultRole:           defaultRole,
		RolesFile:             os.Getenv("AI_ROLES_FILE"),

		AIProvider:        aiProvider,
		GeminiBaseURL:     os.Getenv("GEMINI_BASE_URL"),
		GeminiAPIKey:      geminiAPIKey,
		GeminiModel:       geminiModel,
		OllamaBaseURL:     ollamaBaseURL,
		OllamaModel:       ollamaModel,
		OpenRouterBaseURL: openRouterBaseURL,
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:   openRouterModel,
		OpenRouterSiteURL: os.Getenv("OPENROUTER_SITE_URL"),
		OpenRouterAppName: os.Getenv("OPENROUTER_APP_NAME"),

		SessionBackend: backend,
		SessionTTL:     sessionTTL,
		DBDSN:          dsn,
		RedisAddr:      redisAddr,
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        redisDB,

		RabbitURL:   os.Getenv("RABBIT_URL"),
		RabbitQueue: rabbitQueue,

		LogDir:      logDir,
		LogLevel:    os.Getenv("LOG_LEVEL"),
		CORSOrigins: origins,
	}
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && v
}

// AIModel is the model name of the configured provider.
func (c Config) AIModel() string {
	switch strings.ToLower(c.AIProvider) {
	case "ollama":
		return c.OllamaModel
	case "openrouter":
		return c.OpenRouterModel
	default:
		return c.GeminiModel
	}
}
