package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yumyai/magscreen/internal/util"
	"github.com/yumyai/magscreen/logger"
	"github.com/yumyai/magscreen/pkg/db"
	"github.com/yumyai/magscreen/pkg/handler"
	"github.com/yumyai/magscreen/pkg/middle"
)

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve recorded results as a read-only JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("listen", "", "address to listen on (default 0.0.0.0:8080)")
	return cmd
}

// newServer wires the results API with request-id and logging middleware.
func newServer(addr string, rdb *db.ResultsDB) *http.Server {
	mux := handler.NewRouter(&handler.DBContext{Results: rdb})
	base := logger.L()
	return &http.Server{
		Addr:              addr,
		Handler:           middle.Chain(mux, middle.RequestIDMiddleware(base), middle.LoggingMiddleware(base)),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (a *app) serve(ctx context.Context) error {
	path := a.cfg.ResultsPath()
	if !util.FileExists(path) {
		logger.Warn("No results store yet, serving an empty one", zap.String("path", path))
	}
	rdb, err := db.OpenResults(path)
	if err != nil {
		return err
	}
	defer rdb.Close()

	srv := newServer(a.cfg.Listen, rdb)
	errc := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("addr", srv.Addr), zap.String("db", path))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
