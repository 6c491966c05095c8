package ws

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"multisend/internal/config"
	"multisend/internal/events"
	"multisend/internal/rpc"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// Handler handles WebSocket connections
type Handler struct {
	service    *rpc.Service
	subManager *events.Manager
	cfg        *config.Config
	logger     zerolog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(service *rpc.Service, subManager *events.Manager, cfg *config.Config, logger zerolog.Logger) *Handler {
	return &Handler{
		service:    service,
		subManager: subManager,
		cfg:        cfg,
		logger:     logger.With().Str("component", "ws").Logger(),
	}
}

// ServeHTTP handles WebSocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := NewClient(conn, h.service, h.subManager, h.cfg, h.logger.With().Str("remoteAddr", r.RemoteAddr).Logger())
	h.logger.Info().
		Str("remoteAddr", r.RemoteAddr).
		Str("conn", client.ID()).
		Msg("new WebSocket connection")

	client.Run(r.Context())
}
