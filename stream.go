package main

import (
	"bytes"
	"image/jpeg"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tutortoise/frame-pipeline/detections"
	"github.com/Tutortoise/frame-pipeline/models"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

type streamClient struct {
	conn  *websocket.Conn
	id    string
	label string
	send  chan []byte
}

// FrameHub pushes every displayed overlay to connected websocket viewers as a
// JPEG binary message. Slow viewers skip frames instead of stalling the
// display.
type FrameHub struct {
	mu      sync.RWMutex
	clients map[string]*streamClient
	count   atomic.Int32
	logger  *zap.SugaredLogger
}

func NewFrameHub(logger *zap.SugaredLogger) *FrameHub {
	return &FrameHub{
		clients: make(map[string]*streamClient),
		logger:  logger,
	}
}

func (h *FrameHub) Clients() int {
	return int(h.count.Load())
}

// Publish matches the viewer's display callback.
func (h *FrameHub) Publish(frame *models.AnnotatedFrame) error {
	if h.Clients() == 0 {
		return nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: detections.JPEGQuality}); err != nil {
		return err
	}
	payload := buf.Bytes()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// Replace the frame the client has not picked up yet.
			select {
			case <-c.send:
			default:
			}
			select {
			case c.send <- payload:
			default:
			}
		}
	}
	return nil
}

func (h *FrameHub) register(c *streamClient) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.count.Add(1)
}

func (h *FrameHub) unregister(c *streamClient) {
	h.mu.Lock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
		close(c.send)
		h.count.Add(-1)
	}
	h.mu.Unlock()
}

// Close disconnects every viewer.
func (h *FrameHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
		h.count.Add(-1)
	}
}

func (h *FrameHub) handleStream(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	// clientId is the viewer's own label and may repeat; the hub keys by a fresh id.
	client := &streamClient{
		conn:  conn,
		id:    uuid.NewString(),
		label: r.URL.Query().Get("clientId"),
		send:  make(chan []byte, 1),
	}
	h.register(client)
	h.logger.Infow("stream viewer connected", "id", client.id, "client", client.label)

	go h.writePump(client)
	h.readPump(client)

	h.unregister(client)
	h.logger.Infow("stream viewer disconnected", "id", client.id, "client", client.label)
}

// readPump only watches for the peer going away; viewers send nothing.
func (h *FrameHub) readPump(c *streamClient) {
	defer c.conn.Close()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debugw("stream read failed", "id", c.id, "client", c.label, "error", err)
			}
			return
		}
	}
}

func (h *FrameHub) writePump(c *streamClient) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
