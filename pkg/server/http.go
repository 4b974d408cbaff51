package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"

	"britepool/pkg/config"
	"britepool/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ProvideHTTPServer = fx.Module("http.server",
	fx.Provide(
		NewRouter,
		NewHttpServer,
	),
	fx.Invoke(Run),
)

type Server struct {
	server *http.Server
	certs  *certReloader
	done   chan struct{}
}

// NewRouter builds the gin engine shared by every route module.
func NewRouter(cfg *config.Config) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(), middleware.Error())
	r.HandleMethodNotAllowed = true
	return r
}

type Params struct {
	fx.In
	Config  *config.Config
	Handler *gin.Engine
}

func NewHttpServer(p Params) (*Server, error) {
	cfg := p.Config
	srv := &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Server.Addr),
			Handler:      p.Handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		done: make(chan struct{}),
	}

	if cfg.TLS.Enable {
		certs, err := newCertReloader(cfg.TLS.CertPath, cfg.TLS.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("load TLS key pair: %w", err)
		}
		srv.certs = certs
		srv.server.TLSConfig = &tls.Config{
			MinVersion:     tls.VersionTLS12,
			GetCertificate: certs.GetCertificate,
		}
	}

	return srv, nil
}

func (s *Server) serve(ln net.Listener) error {
	if s.certs != nil {
		go s.certs.watch(s.done)
		// certificates come from TLSConfig.GetCertificate
		return s.server.ServeTLS(ln, "", "")
	}
	return s.server.Serve(ln)
}

func Run(lc fx.Lifecycle, srv *Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// bind synchronously so a taken port fails startup
			ln, err := net.Listen("tcp", srv.server.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", srv.server.Addr, err)
			}

			zap.L().Info("Starting HTTP server", zap.String("addr", ln.Addr().String()), zap.Bool("tls", srv.certs != nil))
			go func() {
				if err := srv.serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					zap.L().Error("HTTP server stopped", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			zap.L().Info("Shutting down HTTP server gracefully...")
			close(srv.done)
			return srv.server.Shutdown(ctx)
		},
	})
}
