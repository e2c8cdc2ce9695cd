package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	DefaultModel          = "gpt-4.1-mini"
	DefaultMaxTokens      = 2048
	DefaultMaxToolRounds  = 8
	DefaultEmbeddingModel = "text-embedding-v3"
	DefaultEmbeddingDim   = 1024

	// Consolidation threshold: a scope's pending buffer is flushed once it
	// holds this many messages. Dev mode drops it to 1 so every message is
	// consolidated immediately.
	DefaultFlushThreshold = 50

	DefaultHistoryWindowSec = 1300
	DefaultFallbackReply    = "呃，我刚才走神了，再说一遍？"
)

type AgentConfig struct {
	SelfID        int64    `json:"self_id"`
	NameVariants  []string `json:"name_variants"`
	Model         string   `json:"model"`
	MaxTokens     int      `json:"max_tokens"`
	MaxToolRounds int      `json:"max_tool_rounds"`
	FallbackReply string   `json:"fallback_reply"`
	// HistoryWindowSec bounds how far back prompt rendering reaches.
	HistoryWindowSec int `json:"history_window_sec"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

type EmbeddingConfig struct {
	APIKey    string `json:"api_key"`
	BaseURL   string `json:"base_url"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

type MemoryConfig struct {
	DBPath         string `json:"db_path"`
	FlushThreshold int    `json:"flush_threshold"`
	// Dev forces FlushThreshold to 1 regardless of the configured value.
	Dev bool `json:"dev"`
}

type OneBotConfig struct {
	Enabled bool   `json:"enabled"`
	WSURL   string `json:"ws_url"`
	Token   string `json:"token"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allow_from"`
	Proxy     string   `json:"proxy"`
}

type ChannelsConfig struct {
	OneBot   OneBotConfig   `json:"onebot"`
	Telegram TelegramConfig `json:"telegram"`
}

type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Provider  ProviderConfig  `json:"provider"`
	Embedding EmbeddingConfig `json:"embedding"`
	Memory    MemoryConfig    `json:"memory"`
	Channels  ChannelsConfig  `json:"channels"`
	AliasPath string          `json:"alias_path"`
	CronStore string          `json:"cron_store"`
}

func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aster"
	}
	return filepath.Join(home, ".aster")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func DefaultConfig() *Config {
	dir := ConfigDir()
	return &Config{
		Agent: AgentConfig{
			NameVariants:     []string{"aster", "阿斯特", "小星"},
			Model:            DefaultModel,
			MaxTokens:        DefaultMaxTokens,
			MaxToolRounds:    DefaultMaxToolRounds,
			FallbackReply:    DefaultFallbackReply,
			HistoryWindowSec: DefaultHistoryWindowSec,
		},
		Embedding: EmbeddingConfig{
			Model:     DefaultEmbeddingModel,
			Dimension: DefaultEmbeddingDim,
		},
		Memory: MemoryConfig{
			DBPath:         filepath.Join(dir, "memory.db"),
			FlushThreshold: DefaultFlushThreshold,
		},
		Channels: ChannelsConfig{
			OneBot: OneBotConfig{
				WSURL: "ws://127.0.0.1:3001",
			},
		},
		AliasPath: filepath.Join(dir, "aliases_map.json"),
		CronStore: filepath.Join(dir, "cron.json"),
	}
}

func LoadConfig() (*Config, error) {
	return LoadConfigFrom(ConfigPath())
}

func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnv(cfg)
	normalize(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ASTER_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("ASTER_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
}

func normalize(cfg *Config) {
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = DefaultModel
	}
	if cfg.Agent.MaxTokens <= 0 {
		cfg.Agent.MaxTokens = DefaultMaxTokens
	}
	if cfg.Agent.MaxToolRounds <= 0 {
		cfg.Agent.MaxToolRounds = DefaultMaxToolRounds
	}
	if cfg.Agent.FallbackReply == "" {
		cfg.Agent.FallbackReply = DefaultFallbackReply
	}
	if cfg.Agent.HistoryWindowSec <= 0 {
		cfg.Agent.HistoryWindowSec = DefaultHistoryWindowSec
	}
	if len(cfg.Agent.NameVariants) == 0 {
		cfg.Agent.NameVariants = []string{"aster", "阿斯特", "小星"}
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.Provider.APIKey
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = cfg.Provider.BaseURL
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = DefaultEmbeddingModel
	}
	if cfg.Embedding.Dimension <= 0 {
		cfg.Embedding.Dimension = DefaultEmbeddingDim
	}
	if cfg.Memory.FlushThreshold <= 0 {
		cfg.Memory.FlushThreshold = DefaultFlushThreshold
	}
	if cfg.Memory.Dev {
		cfg.Memory.FlushThreshold = 1
	}
	if cfg.Memory.DBPath == "" {
		cfg.Memory.DBPath = filepath.Join(ConfigDir(), "memory.db")
	}
	if cfg.AliasPath == "" {
		cfg.AliasPath = filepath.Join(ConfigDir(), "aliases_map.json")
	}
	if cfg.CronStore == "" {
		cfg.CronStore = filepath.Join(ConfigDir(), "cron.json")
	}
}
