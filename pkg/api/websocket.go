package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
	sendBuffer       = 256
	maxSubscriptions = 32
	maxMessageBytes  = 4096

	gridChannelPrefix = "grid:"
)

var (
	errUnknownChannel  = errors.New("unknown channel")
	errTooManyChannels = errors.New("too many subscriptions")
	errHubStopped      = errors.New("hub stopped")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origins are checked by the cors middleware
	CheckOrigin: func(r *http.Request) bool { return true },
}

func gridChannel(id common.Hash) string {
	return gridChannelPrefix + id.Hex()
}

// parseGridChannel accepts "grid:<32-byte hex id>".
func parseGridChannel(channel string) (common.Hash, error) {
	hexID, ok := strings.CutPrefix(channel, gridChannelPrefix)
	if !ok || len(strings.TrimPrefix(hexID, "0x")) != 2*common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %s", errUnknownChannel, channel)
	}
	return common.HexToHash(hexID), nil
}

// Hub owns every client and its grid subscriptions. Subscriptions are
// indexed by grid so a slot0 update only touches that grid's followers.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	grids   map[common.Hash]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	stopOnce   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		grids:      make(map[common.Hash]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
	}
}

// Run serves connects and disconnects until Stop.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("[ws] client connected: %s (total: %d)", c.id, n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				log.Printf("[ws] client disconnected: %s (total: %d)", c.id, len(h.clients))
			}
			h.mu.Unlock()

		case <-h.quit:
			h.mu.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.mu.Unlock()
			return
		}
	}
}

// drop forgets c and closes its send queue. Caller must hold h.mu.
func (h *Hub) drop(c *Client) {
	for id := range c.grids {
		h.removeSub(id, c)
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) removeSub(id common.Hash, c *Client) {
	delete(c.grids, id)
	if subs := h.grids[id]; subs != nil {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.grids, id)
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

func (h *Hub) subscribe(c *Client, id common.Hash) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return errHubStopped
	}
	if _, ok := c.grids[id]; ok {
		return nil
	}
	if len(c.grids) >= maxSubscriptions {
		return fmt.Errorf("%w: limit %d", errTooManyChannels, maxSubscriptions)
	}
	c.grids[id] = struct{}{}
	subs := h.grids[id]
	if subs == nil {
		subs = make(map[*Client]struct{})
		h.grids[id] = subs
	}
	subs[c] = struct{}{}
	return nil
}

func (h *Hub) unsubscribe(c *Client, id common.Hash) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeSub(id, c)
}

// BroadcastSlot0 queues upd for every follower of grid id. A follower whose
// queue is full misses the update.
func (h *Hub) BroadcastSlot0(id common.Hash, upd Slot0Update) {
	message, err := json.Marshal(upd)
	if err != nil {
		log.Printf("[ws] marshal error: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.grids[id] {
		if !c.enqueue(message) {
			log.Printf("[ws] client %s lagging, dropped slot0 for %s", c.id, id.Hex())
		}
	}
}

// SubscriberCount reports how many clients follow grid id.
func (h *Hub) SubscriberCount(id common.Hash) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.grids[id])
}

// Client is one WebSocket connection. grids is guarded by the hub's lock.
type Client struct {
	id    string
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	grids map[common.Hash]struct{}
}

func (c *Client) enqueue(message []byte) bool {
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// reply queues an acknowledgement. Caller must not hold the hub lock.
func (c *Client) reply(ack WSAck) {
	message, err := json.Marshal(ack)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; ok {
		c.enqueue(message)
	}
}

func (c *Client) handle(req WSSubscribeRequest) {
	var (
		done []string
		errs []string
	)
	for _, channel := range req.Channels {
		id, err := parseGridChannel(channel)
		if err == nil {
			switch req.Op {
			case "subscribe":
				err = c.hub.subscribe(c, id)
			case "unsubscribe":
				c.hub.unsubscribe(c, id)
			default:
				err = fmt.Errorf("unknown op %q", req.Op)
			}
		}
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		done = append(done, channel)
	}

	if len(done) > 0 {
		log.Printf("[ws] client %s %sd %v", c.id, req.Op, done)
		c.reply(WSAck{Type: req.Op + "d", Channels: done})
	}
	if len(errs) > 0 {
		c.reply(WSAck{Type: "error", Error: strings.Join(errs, "; ")})
	}
}

// readPump applies subscription requests until the connection fails.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req WSSubscribeRequest
		if err := c.conn.ReadJSON(&req); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				c.reply(WSAck{Type: "error", Error: "invalid message"})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[ws] read error: %v", err)
			}
			return
		}
		c.handle(req)
	}
}

// writePump drains the send queue and keeps the connection alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	c := &Client{
		id:    uuid.NewString(),
		hub:   s.hub,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		grids: make(map[common.Hash]struct{}),
	}
	select {
	case s.hub.register <- c:
	case <-s.hub.quit:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
