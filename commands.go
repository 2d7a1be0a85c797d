package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gamma-omg/doc-portal/ingest"
	"github.com/gamma-omg/doc-portal/sessions"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var (
	cfgPath string

	okText   = color.New(color.FgGreen).SprintFunc()
	warnText = color.New(color.FgYellow).SprintFunc()
	errText  = color.New(color.FgRed).SprintFunc()
	idText   = color.New(color.FgCyan, color.Bold).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:          "portal",
	Short:        "Upload documents into per-session vector indexes and search them",
	SilenceUsage: true,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE...",
	Short: "Save documents into a session and ingest them into its index",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search a session's index",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a session's index over MCP and ingest what lands in the inbox",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove all but the newest sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionsClean,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "cfg/config.yaml", "Configuration file")

	ingestCmd.Flags().StringP("session", "s", "", "Session id; a new session is started when empty")

	searchCmd.Flags().StringP("session", "s", "", "Session id")
	searchCmd.Flags().IntP("results", "k", 0, "Number of results (defaults to the configured value)")
	_ = searchCmd.MarkFlagRequired("session")

	serveCmd.Flags().StringP("session", "s", "", "Session id; a new session is started when empty")

	sessionsCleanCmd.Flags().Int("keep", -1, "Sessions to keep (defaults to keep_sessions)")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsCleanCmd)
	rootCmd.AddCommand(ingestCmd, searchCmd, serveCmd, sessionsCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	p, err := newPortal(cfgPath)
	if err != nil {
		return err
	}
	defer p.Close()

	uploads, err := fileUploads(args)
	if err != nil {
		return err
	}

	sessionID, _ := cmd.Flags().GetString("session")
	s, err := p.sessions.Open(sessionID)
	if err != nil {
		return err
	}

	idx, err := p.openIndex(cmd.Context(), s)
	if err != nil {
		return err
	}

	saved, err := s.Save(uploads)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	reg := p.registry(s.DataDir, s.ID, idx)

	var errs []error
	for _, f := range saved {
		r, err := reg.IngestFile(cmd.Context(), f.Path, f.Name)
		if err != nil {
			fmt.Fprintf(out, "%s %s: %v\n", errText("failed"), f.Name, err)
			errs = append(errs, err)
			continue
		}

		fmt.Fprintf(out, "%s %s: %d chunks, %d new\n", okText("ingested"), f.Name, r.Chunks, r.Added)
	}

	fmt.Fprintf(out, "session %s\n", idText(s.ID))
	return errors.Join(errs...)
}

// fileUploads names each upload after its file name; that name becomes the chunk source.
func fileUploads(paths []string) ([]sessions.Upload, error) {
	uploads := make([]sessions.Upload, 0, len(paths))
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
		}

		uploads = append(uploads, sessions.FileUpload(abs))
	}

	return uploads, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	p, err := newPortal(cfgPath)
	if err != nil {
		return err
	}
	defer p.Close()

	sessionID, _ := cmd.Flags().GetString("session")
	k, _ := cmd.Flags().GetInt("results")
	if k <= 0 {
		k = p.cfg.Results
	}

	s, err := p.sessions.Lookup(sessionID)
	if err != nil {
		return err
	}

	idx, err := p.openIndex(cmd.Context(), s)
	if err != nil {
		return err
	}

	res, err := idx.Search(cmd.Context(), args[0], k)
	if errors.Is(err, ingest.ErrNotInitialized) {
		return fmt.Errorf("session %s has no documents yet: %w", sessionID, err)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for i, r := range res {
		fmt.Fprintf(out, "%d. %s %s\n%s\n\n", i+1, idText(fmt.Sprintf("%.4f", r.Score)), warnText(r.Metadata[ingest.MetaSource]), r.Text)
	}

	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	p, err := newPortal(cfgPath)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sessionID, _ := cmd.Flags().GetString("session")
	s, err := p.sessions.Open(sessionID)
	if err != nil {
		return err
	}

	idx, err := p.openIndex(ctx, s)
	if err != nil {
		return err
	}

	inbox := p.cfg.Inbox
	reg := p.registry(inbox, s.ID, idx)

	if inbox != "" {
		if err := os.MkdirAll(inbox, 0o755); err != nil {
			return fmt.Errorf("failed to create inbox: %w", err)
		}

		go func() {
			if _, err := reg.Sync(ctx); err != nil {
				p.log.Error("inbox sync finished with errors", "error", err)
			}

			if err := reg.Watch(ctx); err != nil {
				p.log.Error("failed to watch inbox", "inbox", inbox, "error", err)
			}
		}()
	}

	srv := NewRagServer(idx, reg, p.cfg.Results)
	sse := server.NewSSEServer(srv, server.WithBaseURL(fmt.Sprintf("http://%s", p.cfg.ServerAddr)))

	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		_ = sse.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "serving session %s on %s, inbox %s\n", idText(s.ID), p.cfg.ServerAddr, inbox)
	p.log.Info("mcp server started", "addr", p.cfg.ServerAddr, "inbox", inbox)

	if err := sse.Start(p.cfg.ServerAddr); err != nil && ctx.Err() == nil {
		return err
	}

	return nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	p, err := newPortal(cfgPath)
	if err != nil {
		return err
	}
	defer p.Close()

	ids, err := p.sessions.List()
	if err != nil {
		return err
	}

	for _, id := range ids {
		fmt.Fprintln(cmd.OutOrStdout(), idText(id))
	}

	return nil
}

func runSessionsClean(cmd *cobra.Command, args []string) error {
	p, err := newPortal(cfgPath)
	if err != nil {
		return err
	}
	defer p.Close()

	keep, _ := cmd.Flags().GetInt("keep")
	if keep < 0 {
		keep = p.cfg.KeepSessions
	}

	removed, err := p.sessions.Clean(keep)
	for _, path := range removed {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", warnText("removed"), path)
	}

	return err
}
