package handlers

import (
    "encoding/json"
    "sync"

    "github.com/devault/backend/internal/core/ports"
    "github.com/devault/backend/internal/infrastructure/logger"
    "github.com/devault/backend/internal/transport/http/dto"
    "github.com/gofiber/contrib/websocket"
    "github.com/google/uuid"
)

const subscriberBuffer = 64

type subscriber struct {
    id      string
    channel string
    send    chan []byte
}

// SocketHub fans published events out to websocket subscribers of a
// channel. A subscriber that falls behind loses frames instead of slowing
// the publisher.
type SocketHub struct {
    logger *logger.Logger

    mu   sync.RWMutex
    subs map[string]map[string]*subscriber
}

var _ ports.Publisher = (*SocketHub)(nil)

func NewSocketHub(logger *logger.Logger) *SocketHub {
    return &SocketHub{logger: logger, subs: make(map[string]map[string]*subscriber)}
}

func (h *SocketHub) Publish(channel, event string, payload any) {
    frame, err := json.Marshal(dto.SocketFrame{Event: event, Data: payload})
    if err != nil {
        h.logger.Errorw("socket_frame_encode_failed", "channel", channel, "event", event, "error", err)
        return
    }

    h.mu.RLock()
    defer h.mu.RUnlock()
    for _, s := range h.subs[channel] {
        select {
        case s.send <- frame:
        default:
            h.logger.Warnw("socket_frame_dropped", "channel", channel, "subscriber", s.id, "event", event)
        }
    }
}

func (h *SocketHub) subscribe(channel string) *subscriber {
    s := &subscriber{id: uuid.NewString(), channel: channel, send: make(chan []byte, subscriberBuffer)}
    h.mu.Lock()
    if h.subs[channel] == nil {
        h.subs[channel] = make(map[string]*subscriber)
    }
    h.subs[channel][s.id] = s
    h.mu.Unlock()
    h.logger.Infow("socket_subscribed", "channel", channel, "subscriber", s.id)
    return s
}

func (h *SocketHub) unsubscribe(s *subscriber) {
    h.mu.Lock()
    delete(h.subs[s.channel], s.id)
    if len(h.subs[s.channel]) == 0 {
        delete(h.subs, s.channel)
    }
    h.mu.Unlock()
    h.logger.Infow("socket_unsubscribed", "channel", s.channel, "subscriber", s.id)
}

// Subscribers reports how many connections listen on channel.
func (h *SocketHub) Subscribers(channel string) int {
    h.mu.RLock()
    defer h.mu.RUnlock()
    return len(h.subs[channel])
}

// Handle serves /ws/channels/:channel. Incoming messages are ignored; the
// read loop only detects the client going away.
func (h *SocketHub) Handle(c *websocket.Conn) {
    s := h.subscribe(c.Params("channel"))
    defer h.unsubscribe(s)

    closed := make(chan struct{})
    go func() {
        defer close(closed)
        for {
            if _, _, err := c.ReadMessage(); err != nil {
                return
            }
        }
    }()

    for {
        select {
        case <-closed:
            return
        case frame := <-s.send:
            if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
                h.logger.Warnw("socket_write_failed", "subscriber", s.id, "error", err)
                c.Close()
                <-closed
                return
            }
        }
    }
}
