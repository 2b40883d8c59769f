package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-query-cache/internal/fakeapi"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an in-memory admin API",
		Long: `serve runs an in-memory copy of the admin API, seeded from a JSON fixture
with "users" and "courses" arrays. It stops on SIGINT or SIGTERM.`,
		Example: `  rosterctl serve --fixture roster.json --listen :8080
  rosterctl serve --cors --origins http://localhost:5173`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{offline: "true"},
		RunE:        a.runServe,
	}
	cmd.Flags().String("listen", defaultListen, "listen address")
	cmd.Flags().String("fixture", "", "JSON fixture to seed the directory from")
	cmd.Flags().Bool("cors", false, "allow browser clients")
	cmd.Flags().StringSlice("origins", nil, "allowed CORS origins (default: any)")
	cmd.Flags().Duration("latency", 0, "delay added to every API request")
	return cmd
}

func (a *app) runServe(cmd *cobra.Command, args []string) error {
	dir, err := loadDirectory(a.settings.Fixture, a.settings.PageSize)
	if err != nil {
		return err
	}

	if a.settings.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	opts := []fakeapi.Option{fakeapi.WithLogger(a.logger)}
	if a.settings.CORS {
		opts = append(opts, fakeapi.WithCORS(a.settings.Origins...))
	}
	if a.settings.Latency > 0 {
		opts = append(opts, fakeapi.WithLatency(a.settings.Latency))
	}

	ln, err := net.Listen("tcp", a.settings.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	srv := &http.Server{
		Handler:           fakeapi.NewServer(dir, opts...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", ln.Addr())
	snap := dir.Snapshot()
	a.logger.Info("rosterctl: serving admin API",
		"addr", ln.Addr().String(),
		"users", len(snap.Users),
		"courses", len(snap.Courses),
	)

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("rosterctl: shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// loadDirectory seeds a directory from path, or returns an empty one.
func loadDirectory(path string, pageSize int) (*fakeapi.Directory, error) {
	if path == "" {
		return fakeapi.NewDirectory(pageSize), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var snap fakeapi.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode fixture %s: %w", path, err)
	}
	return fakeapi.NewDirectoryFrom(pageSize, snap), nil
}
