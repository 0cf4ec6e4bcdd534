package serve

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/ichat/chat-service/internal/config"
	"github.com/ichat/chat-service/internal/plugin/route/admin"
	"github.com/ichat/chat-service/internal/plugin/route/conversations"
	"github.com/ichat/chat-service/internal/plugin/route/media"
	"github.com/ichat/chat-service/internal/plugin/route/messages"
	routesystem "github.com/ichat/chat-service/internal/plugin/route/system"
	"github.com/ichat/chat-service/internal/plugin/route/users"
	storemetrics "github.com/ichat/chat-service/internal/plugin/store/metrics"
	registryattach "github.com/ichat/chat-service/internal/registry/attach"
	registrymigrate "github.com/ichat/chat-service/internal/registry/migrate"
	registrypresence "github.com/ichat/chat-service/internal/registry/presence"
	registryroute "github.com/ichat/chat-service/internal/registry/route"
	registrystore "github.com/ichat/chat-service/internal/registry/store"
	"github.com/ichat/chat-service/internal/security"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Store           registrystore.ChatStore
	Presence        registrypresence.Tracker
	Blobs           registryattach.BlobStore
	Router          *gin.Engine
	Running         *RunningServer
	closeManagement func(context.Context) error
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	return s.Running.Close(ctx)
}

// StartServer initializes all subsystems and starts the HTTP server.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting chat service",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"media", cfg.BlobStoreType,
		"presence", cfg.PresenceType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	// Initialize presence tracker
	presenceLoader, err := registrypresence.Select(cfg.PresenceType)
	if err != nil {
		return nil, err
	}
	tracker, err := presenceLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize presence tracker: %w", err)
	}

	// Initialize blob store
	blobLoader, err := registryattach.Select(cfg.BlobStoreType)
	if err != nil {
		return nil, err
	}
	blobs, err := blobLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(security.AdminAuditMiddleware(cfg.RequireJustification))
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	// Mount main route plugins on the main router.
	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}

	// Create shared token resolver and auth middleware.
	resolver := security.NewTokenResolver(cfg)
	auth := security.AuthMiddleware(resolver)

	// Mount API routes
	users.MountRoutes(router, store, tracker, cfg, auth)
	conversations.MountRoutes(router, store, blobs, cfg, auth)
	messages.MountRoutes(router, store, blobs, cfg, auth)
	media.MountRoutes(router, blobs, cfg, auth)

	// Mount Admin API routes
	admin.MountRoutes(router, store, cfg, auth)

	// Mount management route plugins. If a dedicated management port is
	// configured, run them on a bare gin engine served by the management
	// server. Otherwise, mount them on the main router.
	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(mgmtRouter); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
		mgmt, err := StartHTTPServer(managementListenerConfig(cfg), mgmtRouter)
		if err != nil {
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
		closeManagement = mgmt.Close
	} else {
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(router); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
	}

	running, err := StartHTTPServer(cfg.Listener, router)
	if err != nil {
		return nil, err
	}

	log.Info("Server listening",
		"port", running.Port,
		"tls", cfg.Listener.EnableTLS,
	)

	routesystem.MarkReady()
	return &Server{
		Config:          cfg,
		Store:           store,
		Presence:        tracker,
		Blobs:           blobs,
		Router:          router,
		Running:         running,
		closeManagement: closeManagement,
	}, nil
}

// managementListenerConfig derives the management listener settings, sharing
// the main listener's TLS configuration and cert material.
func managementListenerConfig(cfg *config.Config) config.ListenerConfig {
	mgmt := cfg.ManagementListener
	mgmt.EnableTLS = cfg.Listener.EnableTLS
	mgmt.TLSCertFile = cfg.Listener.TLSCertFile
	mgmt.TLSKeyFile = cfg.Listener.TLSKeyFile
	return mgmt
}
