package config

import "time"

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Line: LineConfig{
			CallbackPath: "/callback",
		},
		Bot: BotConfig{
			Mode: "rag",
			Messages: MessagesConfig{
				NotReady:   "The system is not ready yet. Please try again later.",
				Apology:    "An error occurred, please try again later.",
				EchoPrefix: "您說了：",
			},
		},
		Generation: GenerationConfig{
			Provider:     "openai",
			Temperature:  0.2,
			MaxTokens:    1024,
			Timeout:      20 * time.Second,
			SystemPrompt: defaultSystemPrompt,
			TopK:         4,
		},
		Knowledge: KnowledgeConfig{
			Enabled:          true,
			DocumentsDir:     "./documents",
			Extensions:       []string{".txt", ".md", ".pdf"},
			ChunkSize:        1000,
			ChunkOverlap:     200,
			Embedder:         "tfidf",
			EmbedBatchSize:   32,
			EmbedConcurrency: 4,
			FailOnError:      false,
		},
		Webhook: WebhookConfig{
			MaxBodyBytes:    1 << 20,
			Dedupe:          false,
			DedupeDBPath:    "./data/linebot.db",
			DedupeRetention: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Path:    "/metrics",
		},
	}
}

const defaultSystemPrompt = `You are a helpful assistant answering questions from a chat user.
Use only the provided context to answer. If the context does not contain the
answer, say that you do not know. Reply in the language of the question and
keep the answer short enough for a chat message.`
