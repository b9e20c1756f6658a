package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/selfdb/gateway/internal/realtime"
)

// Realtime wires the WebSocket broker proxy. Its own handler performs
// token validation and the upgrade itself, so it bypasses gateway.Wrap.
type Realtime struct {
	proxy *realtime.Proxy
}

func NewRealtime(proxy *realtime.Proxy) *Realtime {
	return &Realtime{proxy: proxy}
}

func (h *Realtime) Register(router fiber.Router) {
	router.Get("/realtime/socket", h.proxy.Handler)
}
