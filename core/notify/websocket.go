// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/dummyapi/core"
	"github.com/relabs-tech/dummyapi/core/access"
	"github.com/relabs-tech/dummyapi/core/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type wsConn struct {
	id    string
	ws    *websocket.Conn
	mutex sync.Mutex
}

func (c *wsConn) ID() string {
	return c.id
}

// Send writes the event as JSON text frame {"name":..., "data":...}
func (c *wsConn) Send(ctx context.Context, event core.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, body)
}

func (c *wsConn) ping() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *wsConn) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	return c.ws.Close()
}

// Handler returns the websocket handler of the bus. The tenant is resolved
// before the connection is upgraded; unknown tokens are rejected with 401.
func (b *Bus) Handler(resolver access.TenantResolver) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, err := resolver.ResolveTenant(ctx, access.AccessToken(r))
		if err != nil {
			http.Error(w, err.Error(), core.HTTPStatus(err))
			return
		}
		clientID := r.URL.Query().Get("client_id")
		if clientID == "" {
			clientID = uuid.New().String()
		}
		ctx, _ = logger.ContextWithLoggerTenant(ctx, tenantID)
		ctx, rlog := logger.ContextWithLoggerClient(ctx, clientID)

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			rlog.WithError(err).Errorln("websocket upgrade failed")
			return
		}
		conn := &wsConn{id: clientID, ws: ws}
		b.Register(tenantID, conn)
		rlog.Infoln("client connected")

		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := conn.ping(); err != nil {
						return
					}
				}
			}
		}()

		ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			// clients do not send anything meaningful, reading keeps control frames flowing
			if _, _, err := ws.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					rlog.WithError(err).Debugln("websocket read failed")
				}
				break
			}
		}
		close(done)
		if b.Unregister(tenantID, conn) {
			ws.Close()
		}
		rlog.Infoln("client disconnected")
	}
}
