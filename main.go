package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/richardartoul/docpdf/pkg/config"
	"github.com/richardartoul/docpdf/pkg/document"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	var configPath string

	cmd := &cobra.Command{
		Use:   "docpdf",
		Short: "Serve PDF renditions of repository files",
		Long: `
docpdf converts office documents stored in git repositories to PDF using a
Gotenberg server and caches the renditions per repository.
`,
		SilenceErrors: true,
		SilenceUsage:  true,

		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			return cfg.Load(c.Flags(), configPath)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "JSON config `file`; command-line flags take precedence")
	cfg.RegisterFlags(flags)

	cmd.AddCommand(
		newServeCommand(cfg),
		newConvertCommand(cfg),
	)
	return cmd
}

func newServeCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return runServe(c.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg, os.Stdout)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("failed to close stores", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.ListenAddr, "store", cfg.Store)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	a.logStats()
	return err
}

func newConvertCommand(cfg *config.Config) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "convert namespace name revision path",
		Short: "Convert one file and store the rendition in the cache",
		Long: `
The convert command renders one file through the same cache the server uses.
The PDF is written to --output, by default the file name with a .pdf
extension in the current directory. Use "-" for standard output. A disk
store is owned by one process, so it can not be used while a server holds it.
`,
		Args: cobra.ExactArgs(4),
		RunE: func(c *cobra.Command, args []string) error {
			ref := document.NewRef(args[0], args[1], args[2], args[3])
			return runConvert(c.Context(), cfg, ref, output, c.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output `file`")
	return cmd
}

func runConvert(ctx context.Context, cfg *config.Config, ref document.Ref, output string, stdout io.Writer) error {
	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}

	// this process converts a single document
	if cfg.LockMode == config.LockMem {
		cfg.LockMode = config.LockNone
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	rc, err := a.service.GetOrConvert(ctx, ref)
	if err != nil {
		return err
	}
	defer rc.Close()

	if output == "-" {
		_, err := io.Copy(stdout, rc)
		return err
	}
	if output == "" {
		name := ref.Filename()
		output = strings.TrimSuffix(name, filepath.Ext(name)) + ".pdf"
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", output, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	logger.Info("wrote pdf", "document", ref.String(), "output", output)
	return nil
}
