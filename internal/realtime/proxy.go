// Package realtime implements the WebSocket proxy (C9): accept a
// client connection, dial the internal pub/sub broker, and pump bytes
// in both directions until either side closes. Per spec.md §4.7.
package realtime

import (
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gorilla/websocket"
	"github.com/selfdb/gateway/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Proxy dials the internal broker for every accepted client connection.
type Proxy struct {
	authSvc    *auth.Service
	brokerBase string // host:port, e.g. "localhost:4000"
}

func NewProxy(authSvc *auth.Service, brokerBase string) *Proxy {
	return &Proxy{authSvc: authSvc, brokerBase: brokerBase}
}

// Handler is the /realtime/socket Fiber route. API key validation
// already happened in the middleware chain by the time this runs.
func (p *Proxy) Handler(c *fiber.Ctx) error {
	return adaptor.HTTPHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		userID, role := "", ""
		if token != "" {
			userID, role = p.authSvc.ValidateWebSocketToken(r.Context(), token)
		}

		clientConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("❌ realtime: client upgrade failed: %v", err)
			return
		}

		brokerURL := url.URL{
			Scheme:   "ws",
			Host:     p.brokerBase,
			Path:     "/socket/websocket",
			RawQuery: url.Values{"user_id": {userID}, "role": {role}}.Encode(),
		}
		brokerConn, _, err := websocket.DefaultDialer.Dial(brokerURL.String(), nil)
		if err != nil {
			log.Printf("❌ realtime: broker dial failed: %v", err)
			closeWithInternalError(clientConn, err)
			return
		}

		log.Printf("✅ realtime: session connected (user: %s, role: %s)", userID, role)
		pump(clientConn, brokerConn)
	}))(c)
}

// pump spawns the client→broker and broker→client forwarders and
// tears both connections down as soon as either side closes — a
// first-closer-wins teardown with no half-open state.
func pump(client, broker *websocket.Conn) {
	defer client.Close()
	defer broker.Close()

	client.SetReadLimit(maxMessageSize)
	client.SetReadDeadline(time.Now().Add(pongWait))
	client.SetPongHandler(func(string) error {
		client.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{}, 2)

	go func() {
		defer func() { done <- struct{}{} }()
		forward(client, broker)
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		forward(broker, client)
	}()

	<-done
}

// forward copies frames from src to dst until src errors or closes.
func forward(src, dst *websocket.Conn) {
	for {
		msgType, msg, err := src.ReadMessage()
		if err != nil {
			return
		}
		dst.SetWriteDeadline(time.Now().Add(writeWait))
		if err := dst.WriteMessage(msgType, msg); err != nil {
			return
		}
	}
}

func closeWithInternalError(conn *websocket.Conn, cause error) {
	msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, cause.Error())
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	conn.Close()
}
