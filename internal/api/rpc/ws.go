package rpc

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"sync"

	"nhooyr.io/websocket"
)

// WSHandler serves the same JSON-RPC surface over websocket, one message per
// request, for clients that cannot spawn the server as a subprocess. The
// concurrency model matches the stdio transport: per-message dispatch
// goroutines with serialised writes per connection.
type WSHandler struct {
	server *Server
	logger *log.Logger
}

// NewWSHandler wraps a protocol server for websocket serving.
func NewWSHandler(srv *Server) *WSHandler {
	return &WSHandler{
		server: srv,
		logger: log.New(os.Stderr, "marrow-ws: ", log.LstdFlags),
	}
}

// ServeHTTP upgrades the connection and pumps requests until the client
// disconnects.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Printf("websocket accept failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "server shutting down")

	ctx := r.Context()
	var (
		writeMu sync.Mutex
		wg      sync.WaitGroup
	)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				break
			}
			h.logger.Printf("websocket read error: %v", err)
			break
		}

		wg.Add(1)
		go func(frame []byte) {
			defer wg.Done()
			resp := h.server.Handle(ctx, frame)
			if resp == nil {
				return
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := conn.Write(ctx, websocket.MessageText, resp); err != nil {
				h.logger.Printf("websocket write error: %v", err)
			}
		}(data)
	}

	wg.Wait()
	conn.Close(websocket.StatusNormalClosure, "")
}
