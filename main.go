package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	gemini "github.com/amikos-tech/chroma-go/pkg/embeddings/gemini"
	openai "github.com/amikos-tech/chroma-go/pkg/embeddings/openai"
	"github.com/gamma-omg/doc-portal/docstore"
	"github.com/gamma-omg/doc-portal/ingest"
	"github.com/gamma-omg/doc-portal/readers"
	"github.com/gamma-omg/doc-portal/sessions"
	"github.com/joho/godotenv"
)

func createEmbeddingFunction(cfg *Config) (embeddings.EmbeddingFunction, error) {
	if cfg.OpenAI != nil {
		ef, err := openai.NewOpenAIEmbeddingFunction(
			cfg.OpenAI.ApiKey,
			openai.WithModel(openai.EmbeddingModel(cfg.OpenAI.Model)))
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI embedding function: %w", err)
		}

		return ef, nil
	}

	if cfg.Gemini != nil {
		ef, err := gemini.NewGeminiEmbeddingFunction(
			gemini.WithAPIKey(cfg.Gemini.ApiKey),
			gemini.WithDefaultModel(embeddings.EmbeddingModel(cfg.Gemini.Model)))
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini embedding function: %w", err)
		}

		return ef, nil
	}

	return nil, fmt.Errorf("%w: no embeddings provider configured, set open_ai or gemini (or OPENAI_API_KEY / GOOGLE_API_KEY)", ingest.ErrConfiguration)
}

func initVectorStore(cfg *Config) (ingest.VectorStore, error) {
	ef, err := createEmbeddingFunction(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.VectorStore == storeChroma {
		store, err := docstore.NewChromaStore(docstore.ChromaStoreConfig{
			BaseURL:       cfg.ChromaAddr,
			EmbeddingFunc: ef,
			RequestSize:   cfg.RequestSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Chroma vector store: %w", err)
		}

		return store, nil
	}

	embedder := docstore.NewBatchEmbedder(docstore.FromEmbeddingFunction(ef), cfg.RequestSize, cfg.EmbedRate)
	return docstore.NewLocalStore(embedder), nil
}

func openLog(cfg *Config) (*slog.Logger, func(), error) {
	path := cfg.LogFile
	if path == "" {
		path = filepath.Join("logs", time.Now().Format("01_02_2006_15_04_05")+".log")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return slog.New(slog.NewJSONHandler(logFile, nil)), func() { logFile.Close() }, nil
}

// portal holds what every command needs: configuration, logging and the session layout.
type portal struct {
	cfg      *Config
	log      *slog.Logger
	sessions *sessions.Manager
	closeLog func()
}

func newPortal(cfgPath string) (*portal, error) {
	// a missing .env is fine; the keys may come from the environment or the config file
	_ = godotenv.Load()

	cfg, err := readConfig(cfgPath)
	if err != nil {
		return nil, errors.Join(ingest.ErrConfiguration, err)
	}

	logger, closeLog, err := openLog(cfg)
	if err != nil {
		return nil, err
	}

	return &portal{
		cfg:      cfg,
		log:      logger,
		sessions: sessions.NewManager(logger, cfg.DataDir, cfg.IndexDir),
		closeLog: closeLog,
	}, nil
}

func (p *portal) Close() {
	p.closeLog()
}

// openIndex opens the deduplicating index of session s.
func (p *portal) openIndex(ctx context.Context, s *sessions.Session) (*ingest.Index, error) {
	store, err := initVectorStore(p.cfg)
	if err != nil {
		return nil, err
	}

	return ingest.Open(ctx, s.IndexDir, store, p.log.With("session_id", s.ID))
}

func (p *portal) registry(root, sessionID string, index Ingester) *DocRegistry {
	return &DocRegistry{
		log:              p.log.With("session_id", sessionID),
		root:             root,
		sessionID:        sessionID,
		mergeEventsDelay: time.Duration(p.cfg.MergeEventsMs) * time.Millisecond,
		index:            index,
		chunkifier:       NewChunkifier(p.cfg.ChunkSize, p.cfg.ChunkOverlap),
		readers:          readers.Default(),
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
