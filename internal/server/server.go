package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tagstream/internal/catalog"
	"tagstream/internal/config"
	"tagstream/internal/polling"
	"tagstream/internal/subscription"
	"tagstream/internal/tag"
	"tagstream/internal/ws"
)

// Server represents the main server
type Server struct {
	cfg       *config.Config
	catalog   *catalog.Catalog
	resolver  *tag.CachingResolver
	adapter   *polling.Adapter
	manager   *subscription.Manager
	wsHandler *ws.Handler
	wsServer  *http.Server
	listener  net.Listener
	logger    zerolog.Logger

	statsStop chan struct{}
	statsWG   sync.WaitGroup
}

// Stats is the payload of the /stats endpoint
type Stats struct {
	Subscriptions subscription.Stats `json:"subscriptions"`
	Polling       polling.Stats      `json:"polling"`
	Clients       int                `json:"clients"`

	// ClientSubscriptions counts subscriptions owned by WebSocket connections
	ClientSubscriptions int `json:"clientSubscriptions"`
}

// New creates a new Server, loading the tag catalog from cfg.CatalogPath
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	logger.Info().
		Str("path", cfg.CatalogPath).
		Int("tags", cat.Len()).
		Msg("tag catalog loaded")

	return NewWithCatalog(cfg, cat, logger)
}

// NewWithCatalog creates a new Server serving the given catalog
func NewWithCatalog(cfg *config.Config, cat *catalog.Catalog, logger zerolog.Logger) (*Server, error) {
	dropPolicy, err := subscription.ParseDropPolicy(cfg.DropPolicy)
	if err != nil {
		return nil, err
	}

	resolver, err := tag.NewCachingResolver(cat, cfg.Resolver.CacheSize, cfg.Resolver.GetCacheTTLDuration(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}
	if cfg.Resolver.CacheSize > 0 {
		logger.Info().
			Int("size", cfg.Resolver.CacheSize).
			Int("ttl", cfg.Resolver.CacheTTL).
			Msg("resolver cache enabled")
	} else {
		logger.Info().Msg("resolver cache disabled")
	}

	adapter, err := polling.New(cat, polling.Config{
		Interval:          cfg.Polling.GetIntervalDuration(),
		PageSize:          cfg.Polling.PageSize,
		ReadTimeout:       cfg.Polling.GetReadTimeoutDuration(),
		SuppressUnchanged: cfg.Polling.SuppressUnchanged,
		ChangeCacheSize:   cfg.Polling.ChangeCacheSize,
	}, logger)
	if err != nil {
		resolver.Close()
		return nil, fmt.Errorf("failed to create polling adapter: %w", err)
	}

	manager, err := subscription.NewManager(subscription.Options{
		Resolver:      resolver,
		OnActivate:    adapter.Activate,
		OnDeactivate:  adapter.Deactivate,
		QueueCapacity: cfg.GetQueueCapacity(),
		DropPolicy:    dropPolicy,
		ControlBuffer: cfg.ControlBuffer,
		Logger:        logger,
	})
	if err != nil {
		adapter.Close()
		resolver.Close()
		return nil, fmt.Errorf("failed to create subscription manager: %w", err)
	}
	adapter.SetPublisher(manager)

	wsHandler := ws.NewHandler(manager, ws.Options{
		MaxSubscriptionsPerClient: cfg.MaxSubscriptionsPerClient,
		WriteTimeout:              cfg.GetWriteTimeoutDuration(),
		Lister:                    cat,
	}, logger)

	return &Server{
		cfg:       cfg,
		catalog:   cat,
		resolver:  resolver,
		adapter:   adapter,
		manager:   manager,
		wsHandler: wsHandler,
		logger:    logger,
		statsStop: make(chan struct{}),
	}, nil
}

// Handler returns the HTTP handler: WebSocket on / and JSON counters on /stats
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", s.wsHandler)
	mux.HandleFunc("/stats", s.serveStats)
	return mux
}

func (s *Server) serveStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Stats()); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write stats")
	}
}

// Stats returns the current counters
func (s *Server) Stats() Stats {
	return Stats{
		Subscriptions: s.manager.Stats(),
		Polling:       s.adapter.Stats(),
		Clients:       s.wsHandler.ClientCount(),

		ClientSubscriptions: s.wsHandler.SubscriptionCount(),
	}
}

// Start starts the server
func (s *Server) Start() error {
	wsAddr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.WSPort)
	ln, err := net.Listen("tcp", wsAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", wsAddr, err)
	}
	s.listener = ln

	s.adapter.Start()

	s.wsServer = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("addr", ln.Addr().String()).
			Msg("starting WebSocket server")
		if err := s.wsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("WebSocket server error")
		}
	}()

	if interval := s.cfg.GetStatsLogIntervalDuration(); interval > 0 {
		s.statsWG.Add(1)
		go s.logStats(interval)
	}

	s.logger.Info().
		Str("ws", fmt.Sprintf("ws://%s/", ln.Addr())).
		Str("stats", fmt.Sprintf("http://%s/stats", ln.Addr())).
		Msg("endpoint available")

	return nil
}

// Addr returns the listening address once started
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// logStats periodically logs engine counters
func (s *Server) logStats(interval time.Duration) {
	defer s.statsWG.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.statsStop:
			return
		case <-ticker.C:
			st := s.Stats()
			s.logger.Info().
				Int("clients", st.Clients).
				Int("clientSubscriptions", st.ClientSubscriptions).
				Int("subscriptions", st.Subscriptions.Subscriptions).
				Int("topics", st.Subscriptions.Topics).
				Uint64("published", st.Subscriptions.Published).
				Uint64("delivered", st.Subscriptions.Delivered).
				Uint64("dropped", st.Subscriptions.Dropped).
				Int("polledTags", st.Polling.Tags).
				Uint64("pollErrors", st.Polling.Errors).
				Msg("stats")
		}
	}
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server...")

	close(s.statsStop)
	s.statsWG.Wait()

	// Disconnect clients first so their subscriptions are released
	s.wsHandler.Close()

	var wsErr error
	if s.wsServer != nil {
		wsErr = s.wsServer.Shutdown(ctx)
	}

	// Fires the remaining deactivations before the adapter goes away
	s.manager.Close()
	s.adapter.Close()
	s.resolver.Close()

	if wsErr != nil {
		return fmt.Errorf("WebSocket server shutdown error: %w", wsErr)
	}

	s.logger.Info().Msg("server stopped")
	return nil
}

// GetSubscriptionManager returns the subscription manager
func (s *Server) GetSubscriptionManager() *subscription.Manager {
	return s.manager
}
