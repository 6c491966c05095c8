package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"multisend/internal/config"
	"multisend/internal/events"
	"multisend/internal/ledger"
	"multisend/internal/ledger/memory"
	"multisend/internal/ledger/sqlite"
	"multisend/internal/multisend"
	"multisend/internal/receipts"
	"multisend/internal/rpc"
	"multisend/internal/ws"
)

// Server represents the main server
type Server struct {
	cfg         *config.Config
	ledger      ledger.Ledger
	distributor *multisend.Distributor
	receipts    receipts.Store
	registry    *events.Registry
	subManager  *events.Manager
	rpcHandler  *rpc.Handler
	wsHandler   *ws.Handler
	rpcServer   *http.Server
	wsServer    *http.Server
	logger      zerolog.Logger
}

// New creates a new Server: it opens the ledger, deploys the genesis tokens
// and builds the HTTP and WebSocket handlers
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	base, err := openLedger(cfg, logger)
	if err != nil {
		return nil, err
	}

	registry := events.NewRegistry(cfg.DedupCacheSize, logger)
	commitLogger := logger.With().Str("component", "ledger").Logger()
	l := ledger.Observe(base, func(c *ledger.Commit) {
		commitLogger.Debug().
			Uint64("block", c.BlockNumber).
			Str("tx", c.TxHash.Hex()).
			Int("events", len(c.Events)).
			Msg("block committed")
		registry.Publish(c)
	})

	if err := deployGenesis(context.Background(), l, cfg.Tokens, logger); err != nil {
		base.Close()
		return nil, fmt.Errorf("failed to deploy genesis tokens: %w", err)
	}

	var store receipts.Store
	if cfg.Receipts.Enabled {
		store, err = receipts.NewMemoryStore(cfg.Receipts.Size, cfg.Receipts.GetTTLDuration())
		if err != nil {
			base.Close()
			return nil, fmt.Errorf("failed to create receipt store: %w", err)
		}
		logger.Info().
			Int("size", cfg.Receipts.Size).
			Int("ttl", cfg.Receipts.TTL).
			Msg("receipts enabled")
	} else {
		store = receipts.NewNoopStore()
		logger.Info().Msg("receipts disabled")
	}

	if cfg.IsRateLimitEnabled() {
		logger.Info().
			Float64("rps", cfg.RateLimit.RPS).
			Int("burst", cfg.RateLimit.Burst).
			Msg("rate limiting enabled")
	}

	distributor := multisend.New(l, cfg.DistributorAddress(), logger)
	service := rpc.NewService(l, distributor, store, logger)
	subManager := events.NewManager(registry, cfg.MaxSubscriptionsPerClient, logger)

	return &Server{
		cfg:         cfg,
		ledger:      l,
		distributor: distributor,
		receipts:    store,
		registry:    registry,
		subManager:  subManager,
		rpcHandler:  rpc.NewHandler(service, cfg, logger),
		wsHandler:   ws.NewHandler(service, subManager, cfg, logger),
		logger:      logger,
	}, nil
}

func openLedger(cfg *config.Config, logger zerolog.Logger) (ledger.Ledger, error) {
	switch cfg.Ledger.Backend {
	case config.BackendSQLite:
		l, err := sqlite.Open(cfg.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite ledger: %w", err)
		}
		logger.Info().Str("path", cfg.Ledger.Path).Msg("using sqlite ledger")
		return l, nil
	case config.BackendMemory:
		logger.Info().Msg("using in-memory ledger")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend '%s'", cfg.Ledger.Backend)
	}
}

// deployGenesis deploys every configured token that is not deployed yet, in one update
func deployGenesis(ctx context.Context, l ledger.Ledger, tokens []config.TokenConfig, logger zerolog.Logger) error {
	var deployed []config.TokenConfig
	_, err := l.Update(ctx, func(tx ledger.Tx) error {
		for _, t := range tokens {
			_, err := tx.Token(t.AddressValue())
			if err == nil {
				continue
			}
			if !errors.Is(err, ledger.ErrUnknownToken) {
				return err
			}

			supply, err := t.SupplyValue()
			if err != nil {
				return fmt.Errorf("token %s: %w", t.Address, err)
			}
			info := ledger.TokenInfo{
				Address:     t.AddressValue(),
				Name:        t.Name,
				Symbol:      t.Symbol,
				Decimals:    t.Decimals,
				TotalSupply: supply,
			}
			if err := tx.Deploy(info, t.HolderValue()); err != nil {
				return fmt.Errorf("token %s: %w", t.Address, err)
			}
			deployed = append(deployed, t)
		}
		if len(deployed) == 0 {
			return errNothingToDeploy
		}
		return nil
	})
	if errors.Is(err, errNothingToDeploy) {
		logger.Info().Int("tokens", len(tokens)).Msg("genesis tokens already deployed")
		return nil
	}
	if err != nil {
		return err
	}

	for _, t := range deployed {
		logger.Info().
			Str("token", t.Address).
			Str("symbol", t.Symbol).
			Str("holder", t.Holder).
			Str("supply", t.Supply).
			Msg("deployed genesis token")
	}
	return nil
}

// errNothingToDeploy discards an empty genesis update so it does not mine a block
var errNothingToDeploy = errors.New("nothing to deploy")

// Start starts the server
func (s *Server) Start() error {
	rpcAddr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.RPCPort)
	wsAddr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.WSPort)

	s.rpcServer = &http.Server{
		Addr:         rpcAddr,
		Handler:      s.rpcHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("addr", rpcAddr).
			Msg("starting RPC server")
		if err := s.rpcServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("RPC server error")
		}
	}()

	s.wsServer = &http.Server{
		Addr:         wsAddr,
		Handler:      s.wsHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("addr", wsAddr).
			Msg("starting WebSocket server")
		if err := s.wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("WebSocket server error")
		}
	}()

	s.logger.Info().
		Str("rpc", fmt.Sprintf("http://%s", rpcAddr)).
		Str("ws", fmt.Sprintf("ws://%s", wsAddr)).
		Str("distributor", s.distributor.Address().Hex()).
		Int("maxCount", s.distributor.MaxCount()).
		Msg("endpoint available")

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server...")

	s.subManager.CloseAll()

	var rpcErr, wsErr error
	if s.rpcServer != nil {
		rpcErr = s.rpcServer.Shutdown(ctx)
	}
	if s.wsServer != nil {
		wsErr = s.wsServer.Shutdown(ctx)
	}

	s.registry.Close()
	s.receipts.Close()
	ledgerErr := s.ledger.Close()

	if rpcErr != nil {
		return fmt.Errorf("RPC server shutdown error: %w", rpcErr)
	}
	if wsErr != nil {
		return fmt.Errorf("WebSocket server shutdown error: %w", wsErr)
	}
	if ledgerErr != nil {
		return fmt.Errorf("ledger close error: %w", ledgerErr)
	}

	s.logger.Info().Msg("server stopped")
	return nil
}

// RPCHandler returns the HTTP JSON-RPC handler
func (s *Server) RPCHandler() http.Handler {
	return s.rpcHandler
}

// WSHandler returns the WebSocket handler
func (s *Server) WSHandler() http.Handler {
	return s.wsHandler
}

// Distributor returns the distribution engine
func (s *Server) Distributor() *multisend.Distributor {
	return s.distributor
}

// GetSubscriptionManager returns the subscription manager
func (s *Server) GetSubscriptionManager() *events.Manager {
	return s.subManager
}
