package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	storeLocal  = "local"
	storeChroma = "chroma"
)

type ProviderConfig struct {
	Model  string `yaml:"model"`
	ApiKey string `yaml:"api_key"`
}

type Config struct {
	LogFile       string          `yaml:"log"`
	DataDir       string          `yaml:"data_dir"`
	IndexDir      string          `yaml:"index_dir"`
	Inbox         string          `yaml:"inbox"`
	MergeEventsMs int             `yaml:"write_debounce_ms"`
	ChunkSize     int             `yaml:"chunk_size"`
	ChunkOverlap  int             `yaml:"chunk_overlap"`
	RequestSize   int             `yaml:"request_size"`
	EmbedRate     float64         `yaml:"embed_rate"`
	Results       int             `yaml:"results"`
	ServerAddr    string          `yaml:"server_addr"`
	KeepSessions  int             `yaml:"keep_sessions"`
	VectorStore   string          `yaml:"vector_store"`
	ChromaAddr    string          `yaml:"chroma_addr"`
	OpenAI        *ProviderConfig `yaml:"open_ai"`
	Gemini        *ProviderConfig `yaml:"gemini"`
}

func defaultConfig() *Config {
	return &Config{
		DataDir:       "data/multi_doc_chat",
		IndexDir:      "faiss_index",
		MergeEventsMs: 500,
		ChunkSize:     1000,
		ChunkOverlap:  300,
		RequestSize:   16 * 1024,
		Results:       5,
		ServerAddr:    "localhost:8080",
		KeepSessions:  3,
		VectorStore:   storeLocal,
	}
}

// readConfig decodes the YAML file at cfgPath over the defaults. A missing file yields the defaults.
func readConfig(cfgPath string) (*Config, error) {
	cfg := defaultConfig()

	cfgFile, err := os.Open(cfgPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("unable to open config file: %w", err)
	default:
		defer cfgFile.Close()

		dec := yaml.NewDecoder(cfgFile)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("unable to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	return cfg, nil
}

// applyEnv fills API keys left out of the file from the environment (and .env).
func applyEnv(cfg *Config) {
	if cfg.OpenAI == nil && cfg.Gemini == nil {
		switch {
		case os.Getenv("GOOGLE_API_KEY") != "":
			cfg.Gemini = &ProviderConfig{Model: "text-embedding-004"}
		case os.Getenv("OPENAI_API_KEY") != "":
			cfg.OpenAI = &ProviderConfig{Model: "text-embedding-3-small"}
		}
	}

	if cfg.OpenAI != nil && cfg.OpenAI.ApiKey == "" {
		cfg.OpenAI.ApiKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Gemini != nil && cfg.Gemini.ApiKey == "" {
		cfg.Gemini.ApiKey = os.Getenv("GOOGLE_API_KEY")
	}
}

func (cfg *Config) validate() error {
	if cfg.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)", cfg.ChunkOverlap, cfg.ChunkSize)
	}

	if cfg.KeepSessions < 0 {
		return fmt.Errorf("keep_sessions must not be negative, got %d", cfg.KeepSessions)
	}

	switch cfg.VectorStore {
	case storeLocal:
	case storeChroma:
		if cfg.ChromaAddr == "" {
			return errors.New("chroma_addr is required when vector_store is chroma")
		}
	default:
		return fmt.Errorf("unknown vector_store %q", cfg.VectorStore)
	}

	return nil
}
