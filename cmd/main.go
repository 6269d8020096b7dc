package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/xhad/docqa/internal/logger"
	"github.com/xhad/docqa/internal/types"
	"github.com/xhad/docqa/pkg/citation"
	"github.com/xhad/docqa/pkg/config"
	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/processor"
	"github.com/xhad/docqa/pkg/rag"
	"github.com/xhad/docqa/pkg/retrieval"
	"github.com/xhad/docqa/pkg/scraper"
	"github.com/xhad/docqa/pkg/store"
)

var (
	configPath string
	verbose    bool
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "docqa",
	Short:         "Ask questions about a document and get cited answers",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env file is fine.
		_ = godotenv.Load()

		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if errs := loaded.Validate(); len(errs) > 0 {
			msgs := make([]string, len(errs))
			for i, e := range errs {
				msgs[i] = e.Error()
			}
			return fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
		}

		cfg = loaded
		logger.SetVerbose(verbose || cfg.Log.Verbose)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

// app holds the components every command shares.
type app struct {
	service *rag.Service
	store   types.VectorStore
	fetcher *scraper.Scraper
}

func (a *app) Close() {
	a.store.Close()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger.Section("Setup")

	proc, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    cfg.Processor.ChunkSize,
		ChunkOverlap: cfg.Processor.ChunkOverlap,
		MinChunkSize: cfg.Processor.MinChunkSize,
	})
	if err != nil {
		return nil, err
	}

	embedder, err := llm.NewEmbedderFromConfig(cfg.Embedder)
	if err != nil {
		return nil, err
	}
	logger.Debug("embedder: %s %s (%d dims)", cfg.Embedder.Provider, cfg.Embedder.Model, cfg.Embedder.Dimensions)

	chatEngine, err := llm.NewChatEngineFromConfig(cfg.LLM)
	if err != nil {
		return nil, err
	}
	logger.Debug("llm: %s %s", cfg.LLM.Provider, cfg.LLM.Model)

	vectorStore, err := store.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	service := rag.New(vectorStore, embedder, chatEngine, proc, rag.Config{
		Retrieval: retrieval.Options{
			TopK:                cfg.Retrieval.TopK,
			ScoreThreshold:      cfg.Retrieval.Threshold(),
			UseMMR:              cfg.Retrieval.MMREnabled(),
			MMRLambda:           cfg.Retrieval.Lambda(),
			CandidateMultiplier: cfg.Retrieval.CandidateMultiplier,
		},
		Rerank: cfg.Retrieval.Rerank,
		Citations: citation.Options{
			FallbackCount:   cfg.Citations.FallbackCount,
			DisableFallback: cfg.Citations.DisableFallback,
		},
		MaxUploadBytes: cfg.Server.MaxUploadBytes(),
	})

	fetcher := scraper.NewWithConfig(scraper.ScraperConfig{
		MaxBytes: cfg.Server.MaxUploadBytes(),
	})

	return &app{service: service, store: vectorStore, fetcher: fetcher}, nil
}
