package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/wsclient/internal/codec"
	"github.com/rickgao/wsclient/internal/config"
	"github.com/rickgao/wsclient/internal/connection"
	"github.com/rickgao/wsclient/internal/database"
	"github.com/rickgao/wsclient/internal/logging"
	"github.com/rickgao/wsclient/internal/recorder"
	"github.com/rickgao/wsclient/internal/version"
)

const (
	statsInterval   = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

type runOptions struct {
	configPath string
	url        string
	stdin      bool
	verbose    bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect and stream until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.url, "url", "", "endpoint URL, overrides client.url")
	cmd.Flags().BoolVar(&opts.stdin, "stdin", false, "send each stdin line as a JSON value")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging and indented payloads")
	return cmd
}

func loadConfig(opts runOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.LoadWithDefaults(opts.configPath); err != nil {
			return nil, err
		}
	}
	if opts.url != "" {
		cfg.Client.URL = opts.url
	}
	if opts.verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func clientConfig(cfg config.ClientConfig) connection.Config {
	cc := connection.DefaultConfig()
	cc.URL = cfg.URL
	if cfg.Transport != "" {
		cc.Transport = cfg.Transport
	}
	if cfg.HandshakeTimeout > 0 {
		cc.HandshakeTimeout = cfg.HandshakeTimeout
	}
	if cfg.WriteTimeout > 0 {
		cc.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.ReadLimit > 0 {
		cc.ReadLimit = cfg.ReadLimit
	}
	cc.UserAgent = cfg.UserAgent
	if cc.UserAgent == "" {
		cc.UserAgent = version.UserAgent()
	}
	cc.Header = cfg.HTTPHeader()
	return cc
}

func run(ctx context.Context, opts runOptions, stdin io.Reader, stdout io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Format: logging.ParseFormat(cfg.Logging.Format),
		Output: os.Stderr,
	})

	client, err := connection.New(clientConfig(cfg.Client), connection.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		r, closeDB, err := startRecorder(ctx, cfg.Recorder, client, logger)
		if err != nil {
			client.Shutdown()
			<-client.Done()
			return err
		}
		defer closeDB()
		rec = r
	}

	p := &printer{out: stdout, verbose: opts.verbose}
	p.subscribe(client)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		p.run()
		return nil
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			logger.Info("shutting down")
		case <-client.Done():
		}
		client.Shutdown()
		return nil
	})

	g.Go(func() error {
		logStats(gctx, client, p, rec, logger)
		return nil
	})

	if opts.stdin {
		g.Go(func() error {
			return sendLines(gctx, client, stdin, logger)
		})
	}

	logger.Info("streaming started", "url", cfg.Client.URL, "transport", cfg.Client.Transport)
	err = g.Wait()

	if rec != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if stopErr := rec.Stop(stopCtx); stopErr != nil {
			logger.Warn("stop recorder", "error", stopErr)
		}
	}

	stats := client.Stats()
	logger.Info("shutdown complete",
		"attempts", stats.Attempts,
		"messages", stats.MessagesReceived,
		"sends", stats.Sends,
	)
	return err
}

func startRecorder(ctx context.Context, cfg config.RecorderConfig, client *connection.Client, logger *slog.Logger) (*recorder.Recorder, func(), error) {
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect recorder database: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	rec := recorder.New(recorder.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
	}, pool, logger)
	// Not tied to ctx: on interrupt the client still publishes CLOSING and
	// CLOSED, and Stop reads those before the final flush.
	if err := rec.Start(context.WithoutCancel(ctx), client); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return rec, pool.Close, nil
}

// sendLines waits for the first OPEN, then sends each stdin line as a JSON
// value. Lines that are not valid JSON are sent as strings.
func sendLines(ctx context.Context, client *connection.Client, in io.Reader, logger *slog.Logger) error {
	statuses := client.StatusStream().Subscribe()
	defer statuses.Unsubscribe()

	for open := false; !open; {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-statuses.C():
			if !ok {
				return nil
			}
			open = s == connection.StatusOpen
		}
	}

	// The scanner cannot be interrupted, so it feeds a channel.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Warn("read stdin", "error", err)
		}
	}()

	dec := codec.JSON{}
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line == "" {
				continue
			}
			v, err := dec.Decode([]byte(line))
			if err != nil {
				v = line
			}
			if err := client.SendContext(ctx, v); err != nil {
				if errors.Is(err, connection.ErrNotConnected) {
					logger.Warn("dropped line, not connected")
					continue
				}
				logger.Warn("send failed", "error", err)
			}
		}
	}
}

func logStats(ctx context.Context, client *connection.Client, p *printer, rec *recorder.Recorder, logger *slog.Logger) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			stats := client.Stats()
			attrs := []any{
				"status", client.Status(),
				"attempts", stats.Attempts,
				"opens", stats.Opens,
				"transport_errors", stats.TransportErrors,
				"messages", stats.MessagesReceived,
				"decode_errors", stats.DecodeErrors,
				"sends", stats.Sends,
				"send_errors", stats.SendErrors,
				"print_backlog", p.backlog(),
			}
			if rec != nil {
				rs := rec.Stats()
				attrs = append(attrs,
					"recorded_messages", rs.Messages,
					"record_errors", rs.Errors,
					"record_backlog", rs.Backlog,
				)
			}
			logger.Info("stats", attrs...)
		}
	}
}
