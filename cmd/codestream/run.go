package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dontdude/codestream/internal/config"
	"github.com/dontdude/codestream/internal/domain"
	"github.com/dontdude/codestream/internal/execution"
	"github.com/dontdude/codestream/internal/logger"
	"github.com/dontdude/codestream/internal/platform/docker"
	"github.com/dontdude/codestream/internal/platform/store"
	"github.com/dontdude/codestream/internal/stream"
	"github.com/dontdude/codestream/internal/worker"
)

var errInterrupted = errors.New("execution interrupted")

var languageFlag string

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Run one source file in a sandbox and stream its output",
	Long: `Run a single source file against the local Docker daemon and print its
output as it is produced. The language is taken from --language or, when
omitted, from the file extension.

Examples:
  codestream run hello.c
  codestream run --language PYTHON script.py`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&languageFlag, "language", "l", "", "Language of the file (C, PYTHON)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logger.New(os.Stderr, cfg.Logging.Format, cfg.Logging.Level)
	if err != nil {
		return err
	}

	lang, err := resolveLanguage(languageFlag, args[0])
	if err != nil {
		return err
	}

	code, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := docker.NewClient(ctx, dockerConfig(cfg), log)
	if err != nil {
		return err
	}
	defer client.Close()

	pool := worker.NewPool(1, 1, log)
	pool.Start()

	svc := execution.NewService(store.NewMemoryStore(), client, execution.NewRegistry(), pool, serviceConfig(cfg), log)

	id, err := svc.Submit(ctx, string(code), lang)
	if err != nil {
		pool.Stop()
		return err
	}

	sink, err := svc.Run(ctx, id)
	if err != nil {
		pool.Stop()
		return err
	}

	out := cmd.OutOrStdout()
	_ = sink.Pump(ctx, func(ev stream.Event) error {
		if ev.Name == stream.CompleteEvent {
			return nil
		}
		_, err := fmt.Fprint(out, ev.Data)
		return err
	})
	if cause := sink.Err(); cause != nil && !sink.Disconnected() {
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", cause)
	}

	// The task records the final status before the pool lets it go.
	pool.Stop()

	rec, err := svc.Find(context.Background(), id)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), formatResult(rec))

	if rec.Status == domain.StatusInterrupted {
		return errInterrupted
	}
	return nil
}

// resolveLanguage uses the explicit flag or falls back to the file extension.
func resolveLanguage(flag, path string) (domain.Language, error) {
	if flag != "" {
		return domain.ParseLanguage(strings.ToUpper(flag))
	}

	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	for _, name := range domain.LanguageNames() {
		lang := domain.Language(name)
		p, err := lang.Profile()
		if err == nil && p.Extension == ext {
			return lang, nil
		}
	}
	return "", fmt.Errorf("%w: cannot infer language from %q, use --language", domain.ErrUnsupportedLanguage, path)
}

func formatResult(e *domain.Execution) string {
	if e.ExecutionTimeMs == nil {
		return fmt.Sprintf("status=%s", e.Status)
	}
	return fmt.Sprintf("status=%s time=%dms", e.Status, *e.ExecutionTimeMs)
}
