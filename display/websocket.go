package display

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/john/printer_monitor/group"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// jsonRPCRequest represents an incoming JSON-RPC 2.0 request.
type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// jsonRPCResponse represents an outgoing JSON-RPC 2.0 response.
type jsonRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// jsonRPCNotification represents a server-to-client notification (no id).
type jsonRPCNotification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	// writeWait bounds a single write to a client.
	writeWait = 10 * time.Second
	// sendQueueSize is how many messages may wait for a slow client
	// before it is disconnected.
	sendQueueSize = 64
)

// WSClient represents a connected WebSocket client. Messages are queued
// and written by the client's own goroutine, so a client that stops
// reading never blocks a broadcast.
type WSClient struct {
	id   string
	conn *websocket.Conn

	queue     chan interface{}
	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn) *WSClient {
	return &WSClient{
		id:    uuid.NewString(),
		conn:  conn,
		queue: make(chan interface{}, sendQueueSize),
		done:  make(chan struct{}),
	}
}

// send queues v without blocking. It reports false when the client is
// closed or its queue is full.
func (c *WSClient) send(v interface{}) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.queue <- v:
		return true
	default:
		return false
	}
}

// close disconnects the client. Safe to call more than once.
func (c *WSClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *WSClient) writeLoop(logger hclog.Logger) {
	defer c.close()
	for {
		select {
		case v := <-c.queue:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(v); err != nil {
				logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// WSHub manages all WebSocket clients. It implements group.BusyNotifier
// so clients learn when a refresh pass is blocking on the network.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*WSClient]bool
	server  *Server
}

func NewWSHub(s *Server) *WSHub {
	return &WSHub{
		clients: make(map[*WSClient]bool),
		server:  s,
	}
}

var _ group.BusyNotifier = (*WSHub)(nil)

func (h *WSHub) register(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *WSHub) unregister(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BeginBatch notifies clients that a refresh pass started.
func (h *WSHub) BeginBatch() {
	h.BroadcastNotification("notify_busy", []interface{}{true})
}

// EndBatch notifies clients that a refresh pass finished.
func (h *WSHub) EndBatch() {
	h.BroadcastNotification("notify_busy", []interface{}{false})
}

// BroadcastStatus sends notify_status_update with every printer's view.
func (h *WSHub) BroadcastStatus(views []group.PrinterView) {
	h.BroadcastNotification("notify_status_update", []interface{}{views})
}

// BroadcastNotification queues a notification for all connected clients.
// A client whose queue is full is disconnected.
func (h *WSHub) BroadcastNotification(method string, params interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	notification := jsonRPCNotification{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	}

	for client := range h.clients {
		if !client.send(notification) {
			h.server.logger.Warn("websocket client not keeping up, disconnecting", "client", client.id)
			client.close()
		}
	}
}

// CloseAll disconnects every client.
func (h *WSHub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.close()
	}
}

// HandleWebSocket upgrades the HTTP connection to WebSocket and processes JSON-RPC.
func (h *WSHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.server.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(conn)
	logger := h.server.logger.With("client", client.id)

	h.register(client)
	defer func() {
		h.unregister(client)
		client.close()
	}()
	go client.writeLoop(logger)

	logger.Debug("websocket client connected", "remote", r.RemoteAddr)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket read error", "error", err)
			}
			break
		}

		var req jsonRPCRequest
		if err := json.Unmarshal(message, &req); err != nil {
			client.send(jsonRPCResponse{
				JSONRPC: "2.0",
				Error:   &rpcError{Code: -32700, Message: "Parse error"},
				ID:      nil,
			})
			continue
		}

		if !client.send(h.handleRPC(client, &req)) {
			logger.Debug("websocket client queue full, disconnecting")
			break
		}
	}
}

func (h *WSHub) handleRPC(client *WSClient, req *jsonRPCRequest) jsonRPCResponse {
	resp := jsonRPCResponse{JSONRPC: "2.0", ID: req.ID}
	guard := h.server.guard

	switch req.Method {
	case "server.connection.identify":
		resp.Result = map[string]interface{}{
			"connection_id": client.id,
		}

	case "printer.query":
		var params struct {
			Key string `json:"key"`
		}
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				resp.Error = &rpcError{Code: -32602, Message: "Invalid params"}
				return resp
			}
		}
		// An empty result must still be present in the response.
		resp.Result = map[string]interface{}{
			"key":   params.Key,
			"value": guard.Query(params.Key),
		}

	case "printer.list":
		resp.Result = guard.Snapshot()

	case "printer.next":
		resp.Result = guard.NextCompletion()

	default:
		resp.Error = &rpcError{Code: -32601, Message: "Method not found"}
	}
	return resp
}
