// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package serve implements "beacon serve", which runs a demo HTTP server
// behind the full telemetry stack.
package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tombee/beacon/internal/cli"
	"github.com/tombee/beacon/internal/commands/shared"
	"github.com/tombee/beacon/internal/metrics"
)

// NewCommand creates the serve command.
func NewCommand() *cobra.Command {
	var (
		listen string
		watch  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a demo server with request tracking",
		Long: `Serve starts an HTTP server whose requests, outbound calls, events
and exceptions flow through the configured telemetry pipeline.

Live metrics are exposed on the quickpulse path and Prometheus metrics on
the metrics path. With --watch the options file is reloaded on change.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, path, err := cli.LoadOptions()
			if err != nil {
				return err
			}
			if listen != "" {
				opts.Server.Listen = listen
			}
			if watch && path == "" {
				return shared.NewInvalidInputError("--watch needs an options file", nil)
			}

			logger := cli.NewLogger(opts.Log, cmd.ErrOrStderr())
			version, _, _ := shared.GetVersion()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mp, err := metrics.NewProvider("beacon", version)
			if err != nil {
				return fmt.Errorf("failed to create metrics provider: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = mp.Shutdown(shutdownCtx)
			}()

			srv := newServer(version, mp, logger)
			if err := srv.load(ctx, opts); err != nil {
				return err
			}
			defer srv.close()

			ln, err := net.Listen("tcp", opts.Server.Listen)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", opts.Server.Listen, err)
			}
			logger.Info("serving", "address", ln.Addr().String(), "channel", opts.Channel.Type)

			return run(ctx, srv, ln, opts.Server.ShutdownTimeout, func(ctx context.Context) error {
				if !watch {
					return nil
				}
				return watchFile(ctx, path, defaultDebounce, logger, func() {
					srv.reload(ctx, path)
				})
			})
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides server.listen)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload the options file when it changes")

	return cmd
}

// run serves h on ln until ctx is done, then shuts down gracefully. extra
// runs alongside the server under the same lifetime.
func run(ctx context.Context, h http.Handler, ln net.Listener, shutdownTimeout time.Duration, extra func(context.Context) error) error {
	httpSrv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	if extra != nil {
		g.Go(func() error { return extra(gctx) })
	}
	return g.Wait()
}
