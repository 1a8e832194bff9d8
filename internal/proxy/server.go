package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Server wraps a Proxy in an HTTP server bound to loopback.
type Server struct {
	proxy    *Proxy
	server   *http.Server
	listener net.Listener
	addr     string
	bindAddr string
	port     int // 0 = OS-assigned
}

// NewServer creates a new proxy server on 127.0.0.1.
func NewServer(proxy *Proxy) *Server {
	return &Server{
		proxy:    proxy,
		bindAddr: "127.0.0.1",
	}
}

// SetBindAddr sets the address to bind to. Only loopback addresses are
// accepted; the broker holds granted authority and must not be reachable
// from the network. Must be called before Start().
func (s *Server) SetBindAddr(addr string) error {
	ip := net.ParseIP(addr)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("refusing to bind proxy to non-loopback address %q", addr)
	}
	s.bindAddr = addr
	return nil
}

// SetPort sets the port to bind to. Use 0 (default) for an OS-assigned
// port. Must be called before Start().
func (s *Server) SetPort(port int) {
	s.port = port
}

// Start begins listening and serving in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.bindAddr, s.port))
	if err != nil {
		return fmt.Errorf("creating listener: %w", err)
	}

	s.listener = listener
	s.addr = listener.Addr().String()

	s.server = &http.Server{
		Handler:           s.proxy,
		ReadHeaderTimeout: 60 * time.Second, // Prevent Slowloris attacks
	}

	go func() {
		_ = s.server.Serve(listener) // Serve blocks until Shutdown is called
	}()
	return nil
}

// Addr returns the proxy server address (host:port).
func (s *Server) Addr() string {
	return s.addr
}

// URL returns the full base URL of the proxy.
func (s *Server) URL() string {
	return "http://" + s.addr
}

// Port returns just the port number the proxy is listening on.
func (s *Server) Port() string {
	_, port, _ := net.SplitHostPort(s.addr)
	return port
}

// Stop stops the proxy server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Proxy returns the underlying proxy.
func (s *Server) Proxy() *Proxy {
	return s.proxy
}
