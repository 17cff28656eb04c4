// Package api exposes the orchestrator over HTTP for external front ends.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = "127.0.0.1:8470"

const shutdownTimeout = 5 * time.Second

// StartOpts holds configuration for the API server.
type StartOpts struct {
	Backend Backend
	Addr    string
	Out     io.Writer
	Logger  hclog.Logger

	// MCP, when set, is mounted under /mcp.
	MCP http.Handler

	// Ready, when set, receives the bound address once listening.
	Ready chan<- string
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Backend == nil {
		return fmt.Errorf("api: backend is required")
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	log := opts.Logger.Named("api")

	gin.SetMode(gin.ReleaseMode)
	router := NewRouter(opts.Backend, log)
	if opts.MCP != nil {
		router.Any("/mcp", gin.WrapH(opts.MCP))
	}

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return fmt.Errorf("api: %w", err)
	}

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	addr := ln.Addr().String()
	log.Info("listening", "addr", addr)
	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening on http://%s\n", addr)
	}
	if opts.Ready != nil {
		opts.Ready <- addr
	}

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// NewRouter builds the gin engine with every API route registered.
func NewRouter(b Backend, log hclog.Logger) *gin.Engine {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, b, log)
	return router
}
