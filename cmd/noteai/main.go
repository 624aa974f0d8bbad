// Package main provides the noteai CLI for ingesting and maintaining documents.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/noteai-server/internal/app"
	"github.com/bull/noteai-server/internal/config"
	"github.com/bull/noteai-server/internal/extract"
	"github.com/bull/noteai-server/internal/ingest"
	"github.com/bull/noteai-server/internal/storage"
)

var (
	userID       string
	statusFilter string
	noWait       bool
)

var rootCmd = &cobra.Command{
	Use:   "noteai",
	Short: "noteai document ingestion tool",
	Long: `CLI for ingesting documents into the noteai store and maintaining it.

It opens the same badger directory as noteai-server, so stop the server or
point DATA_DIR elsewhere before running it.

Environment variables:
  DATA_DIR        badger directory (default: data/db)
  BLOB_DIR        upload directory (default: data/blobs)
  QDRANT_HOST     Qdrant hostname (default: localhost)
  QDRANT_PORT     Qdrant gRPC port (default: 6334)
  OPENAI_API_KEY  OpenAI API key (required unless MOCK_MODE=true)
  GITHUB_TOKEN    GitHub token for higher rate limits (optional)`,
	SilenceUsage: true,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|url>",
	Short: "Ingest a local file, web page, GitHub markdown file or YouTube video",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

var statusCmd = &cobra.Command{
	Use:   "status <document-id>",
	Short: "Show the ingestion status of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents, optionally filtered by --status",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var reingestCmd = &cobra.Command{
	Use:   "reingest <document-id>",
	Short: "Run ingestion again for a completed or failed document",
	Args:  cobra.ExactArgs(1),
	RunE:  runReingest,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Delete a document with its chunks, vectors and chat sessions",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Recover interrupted ingestions and delete orphaned vectors",
	Args:  cobra.NoArgs,
	RunE:  runSweep,
}

func init() {
	ingestCmd.Flags().StringVar(&userID, "user", "cli", "owner of the document")
	ingestCmd.Flags().BoolVar(&noWait, "no-wait", false, "queue the document and return immediately")
	listCmd.Flags().StringVar(&statusFilter, "status", "", "pending, processing, completed or failed")

	rootCmd.AddCommand(ingestCmd, statusCmd, listCmd, reingestCmd, deleteCmd, sweepCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// open wires the application with logs on stderr so command output stays
// readable on stdout.
func open(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, app.NewLogger(cfg.Log, os.Stderr))
}

// sourceFor classifies a command-line argument as a URL source or a local
// upload.
func sourceFor(arg string) (ingest.CreateRequest, error) {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		req := ingest.CreateRequest{SourceType: storage.SourceWeb, SourceRef: arg}
		if _, err := extract.YouTubeID(arg); err == nil {
			req.SourceType = storage.SourceVideo
		}
		return req, nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return ingest.CreateRequest{}, fmt.Errorf("read %s: %w", arg, err)
	}
	return ingest.CreateRequest{
		SourceType: storage.SourceUpload,
		FileName:   filepath.Base(arg),
		Content:    data,
	}, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()

	req, err := sourceFor(args[0])
	if err != nil {
		return err
	}
	req.UserID = userID
	req.Wait = !noWait

	a, err := open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Ingesting %s as %s...\n", args[0], req.SourceType)
	doc, err := a.Ingest.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	if noWait {
		// Close waits for the queued job, so the run still finishes.
		fmt.Printf("Queued %s\n", doc.ID)
		return nil
	}

	fmt.Println()
	printDocument(doc)
	fmt.Println()
	fmt.Printf("Total time: %s\n", time.Since(start).Round(time.Millisecond))
	if doc.Status == storage.StatusFailed {
		return fmt.Errorf("document %s failed: %s", doc.ID, doc.ErrorMessage)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.Ingest.Status(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printDocument(doc)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	status := storage.Status(statusFilter)
	switch status {
	case "", storage.StatusPending, storage.StatusProcessing, storage.StatusCompleted, storage.StatusFailed:
	default:
		return fmt.Errorf("unknown status %q", statusFilter)
	}

	a, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.Store.ListDocuments(cmd.Context(), status)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println("No documents")
		return nil
	}
	for _, doc := range docs {
		fmt.Printf("%s  %-10s %3d%%  %4d chunks  %s\n", doc.ID, doc.Status, doc.Progress, doc.TotalChunks, displayName(doc))
	}
	return nil
}

func runReingest(cmd *cobra.Command, args []string) error {
	a, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Re-ingesting %s...\n", args[0])
	doc, err := a.Ingest.Reingest(cmd.Context(), args[0], true)
	if err != nil {
		return err
	}
	printDocument(doc)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Ingest.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	failed, queued, err := a.Ingest.Resume(ctx)
	if err != nil {
		return err
	}
	a.Ingest.Wait()
	swept, err := a.Ingest.SweepOrphans(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Sweep complete!")
	fmt.Printf("  Interrupted documents failed: %d\n", failed)
	fmt.Printf("  Pending documents processed: %d\n", queued)
	fmt.Printf("  Orphaned vector scopes deleted: %d\n", swept)
	return nil
}

func printDocument(doc *storage.Document) {
	fmt.Printf("Document %s\n", doc.ID)
	fmt.Printf("  Source: %s (%s)\n", displayName(doc), doc.SourceKind)
	fmt.Printf("  Status: %s (%d%%)\n", doc.Status, doc.Progress)
	fmt.Printf("  Chunks: %d\n", doc.TotalChunks)
	if lang := doc.Metadata[storage.MetaLanguage]; lang != "" {
		fmt.Printf("  Language: %s\n", lang)
	}
	if n := doc.Metadata[storage.MetaUnindexedChunks]; n != "" {
		fmt.Printf("  Unindexed chunks: %s\n", n)
	}
	if of := doc.Metadata[storage.MetaDedupOf]; of != "" {
		fmt.Printf("  Duplicate of: %s\n", of)
	}
	if doc.ErrorMessage != "" {
		fmt.Printf("  Error: %s\n", doc.ErrorMessage)
	}
}

func displayName(doc *storage.Document) string {
	if title := doc.Metadata[storage.MetaTitle]; title != "" {
		return title
	}
	if doc.FileName != "" {
		return doc.FileName
	}
	return doc.OriginRef
}
