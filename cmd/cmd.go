package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/config"
	"github.com/xhad/docqa/pkg/rag"
	"github.com/xhad/docqa/pkg/scraper"
	"github.com/xhad/docqa/server"
)

var (
	serveAddr string
	docID     string
	topK      int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, SSE and websocket API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var chatCmd = &cobra.Command{
	Use:   "chat [file|url]",
	Short: "Ingest a document and chat with it interactively",
	Args:  cobra.ExactArgs(1),
	RunE:  runChat,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file|url]",
	Short: "Index a document and print its id",
	Long:  `Index a document into the configured store. Use the pgvector store to keep it across runs.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

var askCmd = &cobra.Command{
	Use:   "ask [doc-id] [question]",
	Short: "Ask one question about an indexed document",
	Args:  cobra.ExactArgs(2),
	RunE:  runAsk,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [doc-id]",
	Short: "Remove an indexed document",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	ingestCmd.Flags().StringVar(&docID, "doc-id", "", "Document id (generated when empty)")
	askCmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to retrieve")
	chatCmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to retrieve")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(deleteCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	serverCfg := cfg.Server
	if serveAddr != "" {
		serverCfg.Addr = serveAddr
	}

	color.Cyan("docqa API on %s (store: %s, llm: %s/%s)", serverCfg.Addr, cfg.Store.Type, cfg.LLM.Provider, cfg.LLM.Model)
	return server.New(a.service, a.fetcher, serverCfg).Run(ctx)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Store.Type == config.StoreMemory {
		color.Yellow("The memory store is discarded on exit; configure pgvector to keep documents.")
	}

	result, err := ingestSource(ctx, a, args[0], docID)
	if err != nil {
		return err
	}
	fmt.Println(result.DocID)
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return streamAnswer(ctx, a.service, models.ChatRequest{DocID: args[0], Question: args[1], TopK: topK})
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	deleted, err := a.service.Delete(ctx, args[0])
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: document %s", models.ErrNotFound, args[0])
	}
	color.Green("✓ Deleted %s", args[0])
	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := ingestSource(ctx, a, args[0], "")
	if err != nil {
		return err
	}

	color.Cyan("\nChat with %s (type 'exit' to quit)", filepath.Base(args[0]))

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if strings.EqualFold(question, "exit") {
			break
		}

		if err := streamAnswer(ctx, a.service, models.ChatRequest{DocID: result.DocID, Question: question, TopK: topK}); err != nil {
			color.Red("Error: %v", err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	return scanner.Err()
}

// ingestSource reads a local file or downloads a URL and indexes it with a
// progress bar over the embedding batches.
func ingestSource(ctx context.Context, a *app, source, id string) (rag.IngestResult, error) {
	req := rag.IngestRequest{DocID: id}

	if scraper.IsURL(source) {
		color.Blue("Downloading %s", source)
		page, err := a.fetcher.Fetch(ctx, source)
		if err != nil {
			return rag.IngestResult{}, err
		}
		req.Filename = page.Filename
		req.ContentType = page.ContentType
		req.Data = page.Data
	} else {
		data, err := os.ReadFile(source)
		if err != nil {
			return rag.IngestResult{}, err
		}
		req.Filename = filepath.Base(source)
		req.ContentType = mime.TypeByExtension(filepath.Ext(source))
		req.Data = data
	}

	var bar *progressbar.ProgressBar
	start := time.Now()
	result, err := a.service.Ingest(ctx, req, func(done, total int) {
		if bar == nil {
			bar = getProgressBar(total, "Embedding chunks")
		}
		bar.Set(done)
		if elapsed := time.Since(start).Seconds(); elapsed > 0 {
			bar.Describe(color.BlueString("Embedding chunks (%.1f chunks/sec)", float64(done)/elapsed))
		}
	})
	if bar != nil {
		bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return rag.IngestResult{}, err
	}

	color.Green("✓ Indexed %d pages into %d chunks (doc %s)", result.Pages, result.Chunks, result.DocID)
	return result, nil
}

// streamAnswer prints the answer as it arrives, then its citations.
func streamAnswer(ctx context.Context, service *rag.Service, req models.ChatRequest) error {
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	spinner := getSpinner(" Thinking...")
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				spinner.Add(1)
			}
		}
	}()

	firstText := true
	stopSpinner := func() {
		if firstText {
			close(stop)
			spinner.Finish()
			spinner.Clear()
			firstText = false
		}
	}
	defer stopSpinner()

	for ev := range service.Ask(ctx, req) {
		switch ev.Type {
		case models.EventText:
			if firstText {
				stopSpinner()
				assistantPrompt("\nAssistant: ")
			}
			fmt.Print(ev.Text)
		case models.EventDone:
			stopSpinner()
			fmt.Println()
			printCitations(ev.Citations)
		case models.EventError:
			stopSpinner()
			fmt.Println()
			return errors.New(ev.Error)
		}
	}
	return nil
}

func printCitations(citations []models.Citation) {
	if len(citations) == 0 {
		return
	}
	color.New(color.FgHiBlack).Println("\nSources:")
	for _, c := range citations {
		fmt.Printf("  %s %s\n", color.YellowString("[page %d, %s]", c.PageNumber, c.ChunkID), c.Excerpt)
	}
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("chunks"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}
