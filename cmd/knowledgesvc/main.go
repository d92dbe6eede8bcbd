// Command knowledgesvc wires the retrieval core together and serves
// the tool vocabulary over a line-delimited JSON stdio loop. The stdio
// and HTTP transports are ingress collaborators; this binary keeps the
// transport layer deliberately thin.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/knowledgesvc/internal/config"
	"github.com/vitaliisemenov/knowledgesvc/internal/dispatch"
	"github.com/vitaliisemenov/knowledgesvc/internal/logging"
)

var (
	// Version information (set by build)
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	logLevel   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "knowledgesvc",
	Short:   "Operational knowledge retrieval service",
	Long:    "Indexes runbooks and operational documentation across filesystem, web, and GitHub sources and answers alert-driven retrieval queries.",
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override configured log level (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		fmt.Printf("configuration valid: %d source(s) configured\n", len(cfg.Sources))
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tool vocabulary over stdin/stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}

		logger := logging.New(logging.Config{
			Level:      cfg.Log.Level,
			Format:     cfg.Log.Format,
			Output:     cfg.Log.Output,
			Filename:   cfg.Log.Filename,
			MaxSize:    cfg.Log.MaxSize,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAge,
			Compress:   cfg.Log.Compress,
		})

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, err := buildService(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer svc.close(context.Background())

		logger.Info("service ready",
			"version", version,
			"sources", len(cfg.Sources),
			"remote_cache", cfg.Cache.Redis.Addr != "")

		return serveStdio(ctx, svc.dispatcher, os.Stdin, os.Stdout, logger)
	},
}

// request is one line of the stdio ingress protocol.
type request struct {
	Tool          string          `json:"tool"`
	Arguments     json.RawMessage `json:"arguments"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// serveStdio reads line-delimited JSON requests from in and writes one
// envelope per line to out until in closes or ctx is cancelled.
func serveStdio(ctx context.Context, d *dispatch.Dispatcher, in io.Reader, out io.Writer, logger *slog.Logger) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			logger.Warn("unparseable request line", "error", err)
			_ = enc.Encode(map[string]any{
				"success": false,
				"error":   map[string]any{"code": "VALIDATION_ERROR", "message": "malformed request line"},
			})
			continue
		}

		callCtx := ctx
		if req.CorrelationID != "" {
			callCtx = logging.WithCorrelationID(ctx, req.CorrelationID)
		}
		env := d.Dispatch(callCtx, dispatch.Tool(req.Tool), req.Arguments)
		if err := enc.Encode(env); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	return scanner.Err()
}
