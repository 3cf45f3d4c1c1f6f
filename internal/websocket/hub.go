package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"analytics-console/internal/constant"
	"analytics-console/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Hub struct {
	// Registered clients: UserID -> every open connection of that user
	clients map[string][]*Client

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	// Redis connection for cross-instance fan-out; nil runs single instance
	rdb *redis.Client

	// Frames this instance published carry its id and are skipped on receipt
	instanceID string

	logger logger.ILogger
}

type clusterFrame struct {
	Origin       string          `json:"origin"`
	TargetUserID string          `json:"target_user_id"`
	Message      json.RawMessage `json:"message"`
}

func NewHub(rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client, 16),
		clients:    make(map[string][]*Client),
		rdb:        rdb,
		instanceID: uuid.NewString(),
		logger:     log,
	}
}

// Run processes registrations until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	if h.rdb != nil {
		go h.subscribeToRedis(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.UserID] = append(h.clients[client.UserID], client)
			h.mu.Unlock()
			h.logger.Info(constant.ModuleHub, "Client registered", map[string]interface{}{"user_id": client.UserID})

		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[client.UserID]
	if !ok {
		return
	}
	for i, c := range clients {
		if c == client {
			h.clients[client.UserID] = append(clients[:i], clients[i+1:]...)
			client.closeSend()
			break
		}
	}
	if len(h.clients[client.UserID]) == 0 {
		delete(h.clients, client.UserID)
		h.logger.Info(constant.ModuleHub, "Client completely unregistered", map[string]interface{}{"user_id": client.UserID})
	}
}

// ClientCount reports how many local connections userID holds.
func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// SendToUser delivers payload to every local connection of userID and to
// every other instance through redis.
func (h *Hub) SendToUser(userID string, payload []byte) {
	h.deliverLocal(userID, payload)

	if h.rdb != nil {
		frame, _ := json.Marshal(clusterFrame{
			Origin:       h.instanceID,
			TargetUserID: userID,
			Message:      payload,
		})
		if err := h.rdb.Publish(context.Background(), constant.ClusterConsoleChannel, frame).Err(); err != nil {
			h.logger.Warn(constant.ModuleHub, "Failed to publish cluster frame", map[string]interface{}{"user_id": userID, "error": err.Error()})
		}
	}
}

func (h *Hub) deliverLocal(userID string, payload []byte) {
	h.mu.RLock()
	clients := append([]*Client(nil), h.clients[userID]...)
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.Send <- payload:
		default:
			h.logger.Warn(constant.ModuleHub, "Client Send buffer full, dropping connection", map[string]interface{}{"user_id": userID})
			h.unregister <- client
		}
	}
}

func (h *Hub) subscribeToRedis(ctx context.Context) {
	// Every instance listens on one channel and keeps frames for users it
	// holds locally.
	pubsub := h.rdb.Subscribe(ctx, constant.ClusterConsoleChannel)
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		var frame clusterFrame
		if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
			h.logger.Warn(constant.ModuleHub, "Cluster frame parse error", map[string]interface{}{"error": err.Error()})
			continue
		}
		if frame.Origin == h.instanceID || frame.TargetUserID == "" {
			continue
		}
		h.deliverLocal(frame.TargetUserID, frame.Message)
	}
}
