package serve

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ichat/chat-service/internal/config"
)

// RunningServer is a bound, serving HTTP listener.
type RunningServer struct {
	Addr   net.Addr
	Port   int
	Server *http.Server
	Close  func(ctx context.Context) error
}

// StartHTTPServer binds the listener and serves the handler in the
// background. TLS is enabled when the listener config carries a cert/key pair.
func StartHTTPServer(cfg config.ListenerConfig, handler http.Handler) (*RunningServer, error) {
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("listen failed: %w", err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	if cfg.EnableTLS {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			_ = lis.Close()
			return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		lis = tls.NewListener(lis, &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"h2", "http/1.1"},
			MinVersion:   tls.VersionTLS12,
		})
	}

	go func() {
		if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", "err", err)
		}
	}()

	return &RunningServer{
		Addr:   lis.Addr(),
		Port:   lis.Addr().(*net.TCPAddr).Port,
		Server: srv,
		Close: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	}, nil
}
