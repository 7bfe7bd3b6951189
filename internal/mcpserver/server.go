// Package mcpserver exposes the pipeline as Model Context Protocol tools.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type Server struct {
	cfg        Config
	mcpServer  *mcp.Server
	httpServer *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "text2sql",
		Version: cfg.Version,
	}, nil)

	s := &Server{cfg: cfg, mcpServer: mcpServer}
	if err := s.registerAskTool(); err != nil {
		return nil, fmt.Errorf("failed to register ask tool: %w", err)
	}
	if err := s.registerValidateTool(); err != nil {
		return nil, fmt.Errorf("failed to register validate tool: %w", err)
	}
	if err := s.registerSchemaTool(); err != nil {
		return nil, fmt.Errorf("failed to register schema tool: %w", err)
	}

	mux := http.NewServeMux()
	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return mcpServer
	}, &mcp.StreamableHTTPOptions{
		Stateless: true,
	})
	if len(cfg.AllowedTokens) > 0 {
		mux.Handle("/", s.authMiddleware(handler))
	} else {
		mux.Handle("/", handler)
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s, nil
}

// RunStdio serves a single client over stdin/stdout until ctx is done or
// the client disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	s.cfg.Logger.Info("mcp: serving over stdio")
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to run stdio server: %w", err)
	}
	return nil
}

// RunHTTP serves the streamable HTTP transport until ctx is done.
func (s *Server) RunHTTP(ctx context.Context) error {
	if s.cfg.ListenAddr == "" {
		return errors.New("listen address is required for the http transport")
	}

	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.cfg.Logger.Error("mcp: http server error", "error", err)
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.cfg.Logger.Info("mcp: streamable http listening", "listenAddr", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.cfg.Logger.Info("mcp: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	case err := <-serveErrCh:
		return err
	}
}

// authMiddleware requires an "Authorization: Bearer <token>" header naming
// one of the allowed tokens.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unauthorized := func(msg string) {
			w.Header().Set("WWW-Authenticate", `Bearer`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("unauthorized: " + msg + "\n"))
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			unauthorized("missing authorization header")
			return
		}
		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			unauthorized("invalid authorization header format")
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			unauthorized("empty token")
			return
		}
		if !slices.Contains(s.cfg.AllowedTokens, token) {
			unauthorized("invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
