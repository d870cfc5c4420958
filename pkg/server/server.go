package server

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const shutdownTimeout = 10 * time.Second

type HTTPServer interface {
	Run() error
	Shutdown() error
}

type Option func(*Server)

func WithAddr(host string, port uint16) Option {
	return func(s *Server) {
		s.srv.Addr = fmt.Sprintf("%s:%d", host, port)
	}
}

func WithTimeout(read, write, idle time.Duration) Option {
	return func(s *Server) {
		s.srv.ReadTimeout = read
		s.srv.WriteTimeout = write
		s.srv.IdleTimeout = idle
	}
}

func WithHandler(handler http.Handler) Option {
	return func(s *Server) {
		s.srv.Handler = handler
	}
}

type Server struct {
	srv *http.Server
}

func NewHTTPServer(opts ...Option) *Server {
	s := &Server{srv: &http.Server{}}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Server) Run() error {
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server stopped: %w", err)
	}

	return nil
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return s.srv.Shutdown(ctx)
}
