package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		Provider       string   `yaml:"provider"`
		BaseURL        string   `yaml:"base_url"`
		APIKey         string   `yaml:"api_key"`
		Model          string   `yaml:"model"`
		EmbeddingModel string   `yaml:"embedding_model"`
		MaxTokens      int      `yaml:"max_tokens"`
		Temperature    *float64 `yaml:"temperature"`
		SystemPrompt   string   `yaml:"system_prompt"`
		RateLimit      float64  `yaml:"rate_limit"`
	} `yaml:"llm"`

	Database struct {
		Backend     string `yaml:"backend"`
		URL         string `yaml:"url"`
		TablePrefix string `yaml:"table_prefix"`
		VectorDim   int    `yaml:"vector_dim"`
		BatchSize   int    `yaml:"batch_size"`
		Path        string `yaml:"path"`
		Compress    bool   `yaml:"compress"`
	} `yaml:"database"`

	Scraper struct {
		RateLimit float64       `yaml:"rate_limit"`
		Timeout   time.Duration `yaml:"timeout"`
		UserAgent string        `yaml:"user_agent"`
	} `yaml:"scraper"`

	Processor struct {
		ChunkSize          int  `yaml:"chunk_size"`
		CollapseWhitespace bool `yaml:"collapse_whitespace"`
	} `yaml:"processor"`

	Prompt struct {
		CharBudget       int    `yaml:"char_budget"`
		TopK             int    `yaml:"top_k"`
		OversizeFallback string `yaml:"oversize_fallback"`
	} `yaml:"prompt"`

	Pipeline struct {
		SettleDelay        time.Duration `yaml:"settle_delay"`
		BrandVoiceQuestion string        `yaml:"brand_voice_question"`
	} `yaml:"pipeline"`

	Server struct {
		Port           string        `yaml:"port"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func LoadConfig(path string) (*Config, error) {
	// Secrets usually live in a local .env during development.
	_ = godotenv.Load()

	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/brandvoice/config.yaml"),
			"/etc/brandvoice/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "openai"
	}
	ollama := config.LLM.Provider == "ollama"
	if config.LLM.Model == "" {
		if ollama {
			config.LLM.Model = "llama3.1"
		} else {
			config.LLM.Model = "gpt-4-1106-preview"
		}
	}
	if config.LLM.EmbeddingModel == "" {
		if ollama {
			config.LLM.EmbeddingModel = "nomic-embed-text:latest"
		} else {
			config.LLM.EmbeddingModel = "text-embedding-ada-002"
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 1000
	}
	if config.LLM.Temperature == nil {
		temperature := 1.0
		config.LLM.Temperature = &temperature
	}
	if config.LLM.SystemPrompt == "" {
		config.LLM.SystemPrompt = "You are a helpful assistant and brand voice classifier."
	}
	if config.LLM.BaseURL == "" && ollama {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Database.Backend == "" {
		config.Database.Backend = "pgvector"
	}
	if config.Database.TablePrefix == "" {
		config.Database.TablePrefix = "rag"
	}
	if config.Database.VectorDim == 0 {
		if ollama {
			config.Database.VectorDim = 768
		} else {
			config.Database.VectorDim = 1536
		}
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}
	if config.Database.Path == "" {
		config.Database.Path = "./data/chromem"
	}

	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if config.Scraper.Timeout == 0 {
		config.Scraper.Timeout = 30 * time.Second
	}
	if config.Scraper.UserAgent == "" {
		config.Scraper.UserAgent = "brandvoice/1.0"
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 200
	}

	if config.Prompt.CharBudget == 0 {
		config.Prompt.CharBudget = 3750
	}
	if config.Prompt.TopK == 0 {
		config.Prompt.TopK = 3
	}
	if config.Prompt.OversizeFallback == "" {
		config.Prompt.OversizeFallback = "sentinel"
	}

	if config.Pipeline.SettleDelay == 0 {
		config.Pipeline.SettleDelay = 15 * time.Second
	}
	if config.Pipeline.BrandVoiceQuestion == "" {
		config.Pipeline.BrandVoiceQuestion = "What is the brand voice in this text?"
	}

	if config.Server.Port == "" {
		config.Server.Port = "8000"
	}
	if len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = []string{"http://localhost:*", "https://*"}
	}
	if config.Server.RequestTimeout == 0 {
		config.Server.RequestTimeout = 120 * time.Second
	}
	if config.Server.MaxUploadBytes == 0 {
		config.Server.MaxUploadBytes = 32 << 20
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "json"
	}
}

func mergeWithEnv(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Port = port
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
	if delay := os.Getenv("SETTLE_DELAY_SECONDS"); delay != "" {
		if secs, err := strconv.Atoi(delay); err == nil {
			// Zero means "use the default", so a disabled delay is stored as negative.
			if secs <= 0 {
				secs = -1
			}
			config.Pipeline.SettleDelay = time.Duration(secs) * time.Second
		}
	}
}
