package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/mandirweb/rag/pkg/chunker"
	cfgPkg "github.com/mandirweb/rag/pkg/config"
	"github.com/mandirweb/rag/pkg/llm"
	"github.com/mandirweb/rag/pkg/pdf"
	"github.com/mandirweb/rag/pkg/processor"
	"github.com/mandirweb/rag/pkg/rag"
	"github.com/mandirweb/rag/pkg/store"
	"github.com/mandirweb/rag/server"
)

type options struct {
	configPath string
	ingestPath string
	deleteID   string
	serve      bool
	list       bool
	stats      bool
	verbose    bool
}

func main() {
	opts := parseFlags()

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := cfgPkg.LoadConfig(opts.configPath)
	if err != nil {
		color.Red("Config error: %v", err)
		os.Exit(1)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("Config error: %s: %s", e.Field, e.Message)
		}
		os.Exit(1)
	}

	if err := run(cfg, opts, logger); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func parseFlags() options {
	var opts options

	flag.StringVar(&opts.configPath, "config", "", "Path to config file")
	flag.StringVar(&opts.ingestPath, "ingest", "", "File or directory to ingest (.txt, .md, .html, .pdf)")
	flag.StringVar(&opts.deleteID, "delete", "", "Document ID to delete")
	flag.BoolVar(&opts.serve, "serve", false, "Run the WebSocket server instead of the interactive prompt")
	flag.BoolVar(&opts.list, "list", false, "List stored documents with chunk counts")
	flag.BoolVar(&opts.stats, "stats", false, "Print store statistics")
	flag.BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	return opts
}

func run(cfg *cfgPkg.Config, opts options, logger *slog.Logger) error {
	if opts.serve {
		srv, err := server.New(cfg, logger)
		if err != nil {
			return err
		}
		defer srv.Close()
		return srv.ListenAndServe()
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		BatchSize: cfg.Embedding.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}

	vectorStore, err := store.NewWithConfig(store.VectorStoreConfig{
		ConnString: cfg.Database.URL,
		VectorDim:  cfg.Database.VectorDim,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize vector store: %w", err)
	}
	defer vectorStore.Close()

	splitter := chunker.NewWithConfig(chunker.Config{
		MaxChunkSize:     cfg.Chunker.ChunkSize,
		ChunkOverlap:     cfg.Chunker.ChunkOverlap,
		BoundaryFraction: cfg.Chunker.BoundaryFraction,
	})
	proc := processor.New(vectorStore, embedder, splitter, pdf.NewTextExtractor(), logger)

	ctx := context.Background()

	switch {
	case opts.deleteID != "":
		if err := proc.DeleteDocument(ctx, opts.deleteID); err != nil {
			return err
		}
		color.Green("✓ Deleted %s", opts.deleteID)
		return nil

	case opts.list:
		docs, err := proc.DocumentsWithStats(ctx)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			fmt.Printf("%s  %-40s  %d chunks\n", doc.ID, doc.Title, doc.ChunkCount)
		}
		return nil

	case opts.stats:
		stats, err := vectorStore.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Documents:  %d\nChunks:     %d\nEmbeddings: %d\n", stats.Documents, stats.Chunks, stats.Embeddings)
		return nil
	}

	if opts.ingestPath != "" {
		if err := ingest(ctx, cfg, proc, opts.ingestPath); err != nil {
			return err
		}
	}

	return searchLoop(ctx, cfg, rag.New(vectorStore, embedder, logger))
}

func ingest(ctx context.Context, cfg *cfgPkg.Config, proc *processor.Processor, path string) error {
	items, err := collectItems(path)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("no ingestable files under %s", path)
	}

	color.Blue("\nIngesting %d documents from %s\n", len(items), path)
	bar := getProgressBar(len(items), "🔄 Processing documents...")
	startTime := time.Now()

	results, err := proc.ProcessBatch(ctx, items, processor.BatchOptions{
		BatchSize: cfg.Batch.BatchSize,
		Delay:     time.Duration(cfg.Batch.DelayMS) * time.Millisecond,
		OnProgress: func(processed, total int) {
			bar.Set(processed)
			rate := float64(processed) / time.Since(startTime).Seconds()
			bar.Describe(color.BlueString("🔄 Processing documents... (%.1f docs/sec)", rate))
		},
		OnError: func(err error, title string) {
			color.Red("\n✗ %s: %v", title, err)
		},
	})
	if err != nil {
		return fmt.Errorf("ingestion aborted: %w", err)
	}
	bar.Finish()

	totalChunks := 0
	totalEmbedded := 0
	for _, res := range results {
		totalChunks += len(res.Chunks)
		totalEmbedded += res.EmbeddedChunks
	}
	color.Green("\n✓ Ingested %d of %d documents (%d of %d chunks embedded)\n",
		len(results), len(items), totalEmbedded, totalChunks)
	return nil
}

// collectItems gathers batch items from a file or directory, routing by
// extension. Unknown extensions are skipped, not an error.
func collectItems(path string) ([]processor.BatchItem, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var files []string
	if info.IsDir() {
		err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		files = []string{path}
	}

	var items []processor.BatchItem
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}

		title := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		item := processor.BatchItem{Title: title, Source: file}

		switch strings.ToLower(filepath.Ext(file)) {
		case ".txt", ".md":
			item.Content = string(data)
		case ".html", ".htm":
			item.Content = string(data)
			item.HTML = true
		case ".pdf":
			item.PDF = data
		default:
			continue
		}
		items = append(items, item)
	}

	return items, nil
}

func searchLoop(ctx context.Context, cfg *cfgPkg.Config, svc *rag.Service) error {
	color.Cyan("\nSearch your knowledge base (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()

	for {
		userPrompt("\nQuery: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if strings.ToLower(query) == "exit" {
			break
		}

		spinner := getSpinner("🔍 Searching...")
		resp, err := svc.Search(ctx, query, rag.SearchOptions{
			Threshold: cfg.RAG.Threshold,
			Limit:     cfg.RAG.Limit,
		})
		spinner.Finish()
		fmt.Print("\r")

		if err != nil {
			color.Red("Search error: %v\n", err)
			continue
		}
		if resp.TotalFound == 0 {
			color.Yellow("No matching chunks found.\n")
			continue
		}

		for i, chunk := range resp.Chunks {
			color.Cyan("\n[%d] %.0f%%  %s - %s", i+1, chunk.Similarity*100, chunk.DocumentSource, chunk.DocumentTitle)
			fmt.Println(chunk.Content)
		}

		color.Blue("\n--- Assembled context ---")
		fmt.Println(rag.BuildContext(resp.Chunks, cfg.RAG.MaxContextTokens))
	}

	return scanner.Err()
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("docs"),
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
		progressbar.OptionFullWidth(),
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
