package handler

import (
	"analytics-console/internal/constant"
	"analytics-console/internal/pkg/logger"
	"analytics-console/internal/pkg/serverutils"
	internalWS "analytics-console/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// ConsoleStreamHandler upgrades authenticated clients to the live update stream.
type ConsoleStreamHandler struct {
	hub       *internalWS.Hub
	jwtSecret string
	logger    logger.ILogger
}

func NewConsoleStreamHandler(hub *internalWS.Hub, jwtSecret string, log logger.ILogger) *ConsoleStreamHandler {
	return &ConsoleStreamHandler{
		hub:       hub,
		jwtSecret: jwtSecret,
		logger:    log,
	}
}

// ServeWs authenticates the handshake and hands the connection to the hub.
// Browsers cannot set headers on a websocket handshake, so the token may
// also come in the query string.
func (h *ConsoleStreamHandler) ServeWs(c *fiber.Ctx) error {
	tokenStr := serverutils.BearerToken(c)
	if tokenStr == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(fiber.StatusUnauthorized, "Missing token (Query 'token' or Header 'Authorization')"))
	}

	userID, err := serverutils.ParseUserID(tokenStr, h.jwtSecret)
	if err != nil {
		h.logger.Warn(constant.ModuleHub, "Invalid token in WS handshake", map[string]interface{}{"error": err.Error()})
		return c.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(fiber.StatusUnauthorized, "Invalid token"))
	}

	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return websocket.New(func(conn *websocket.Conn) {
		h.logger.Info(constant.ModuleHub, "Starting console stream", map[string]interface{}{"user_id": userID})
		internalWS.ServeWs(h.hub, conn, userID)
		h.logger.Info(constant.ModuleHub, "Console stream ended", map[string]interface{}{"user_id": userID})
	})(c)
}

func (h *ConsoleStreamHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/console/v1/ws", h.ServeWs)
}
