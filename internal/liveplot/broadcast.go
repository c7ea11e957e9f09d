package liveplot

import (
	"encoding/json"
	"sync"
	"time"

	"codeberg.org/mutker/specsweep/internal/axis"
	"codeberg.org/mutker/specsweep/internal/errors"
	"codeberg.org/mutker/specsweep/internal/logger"
	"codeberg.org/mutker/specsweep/internal/sweep"
	"github.com/gorilla/websocket"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster streams the live plot of the running sweep to websocket
// clients. It is both the sweep's PlotSink and an Observer. Sends never
// block the sweep: a client that cannot keep up is disconnected.
type Broadcaster struct {
	sweep.NopObserver

	mu      sync.RWMutex
	clients map[*client]bool
	log     logger.Logger

	// replay for clients joining mid-sweep
	replayMu sync.Mutex
	begin    []byte
	update   []byte
	complete []byte
}

func NewBroadcaster(log logger.Logger) *Broadcaster {
	if log == nil {
		log = logger.Nop()
	}
	return &Broadcaster{
		clients: make(map[*client]bool),
		log:     log,
	}
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	// Registering under replayMu keeps the replay and the live stream in order
	b.replayMu.Lock()
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	for _, data := range [][]byte{b.begin, b.update, b.complete} {
		if data == nil {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client too slow, drop the replay
		}
	}
	b.replayMu.Unlock()

	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every client.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	for c := range b.clients {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// OnStart drops the previous sweep's replay when no Begin will replace it.
func (b *Broadcaster) OnStart(_ axis.Axis, sampling bool) {
	if sampling {
		return
	}
	b.replayMu.Lock()
	b.begin, b.update, b.complete = nil, nil, nil
	b.replayMu.Unlock()
}

func (b *Broadcaster) Begin(x axis.Axis, y sweep.Bounds) {
	b.publish(WSMessage{
		Type: MsgBegin,
		Payload: BeginPayload{
			XMin:  x.Start(),
			XMax:  x.Stop(),
			Step:  x.Step(),
			Steps: x.Len(),
			Y:     finite(y),
		},
	}, func(data []byte) {
		b.begin = data
		b.update = nil
		b.complete = nil
	})
}

func (b *Broadcaster) Update(points []sweep.Sample, rescale *sweep.Bounds) {
	payload := UpdatePayload{Points: points}
	if rescale != nil {
		r := finite(*rescale)
		payload.Rescale = &r
	}
	b.publish(WSMessage{Type: MsgUpdate, Payload: payload}, func(data []byte) {
		b.update = data
	})
}

func (b *Broadcaster) OnStepFailed(f sweep.StepFailure) {
	payload := StepFailedPayload{Wavelength: f.Wavelength}
	if f.Err != nil {
		payload.Error = f.Err.Error()
		payload.Code = string(errors.CodeOf(f.Err))
	}
	b.publish(WSMessage{Type: MsgStepFailed, Payload: payload}, nil)
}

func (b *Broadcaster) OnComplete(r *sweep.Result) {
	if r == nil || r.Dataset == nil {
		return
	}
	b.publish(WSMessage{
		Type: MsgComplete,
		Payload: CompletePayload{
			Cancelled: r.Dataset.Cancelled(),
			Samples:   r.Dataset.Len(),
			Stats:     r.Stats,
			Bounds:    finite(r.Bounds),
		},
	}, func(data []byte) {
		b.complete = data
	})
}

// publish encodes msg, lets remember update the replay state and sends it
// to every client, all under replayMu so joins cannot interleave.
func (b *Broadcaster) publish(msg WSMessage, remember func(data []byte)) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Error().Err(err).Str("type", string(msg.Type)).Msg("Failed to encode plot message")
		return
	}

	b.replayMu.Lock()
	defer b.replayMu.Unlock()

	if remember != nil {
		remember(data)
	}

	// Sends happen under the read lock so RemoveClient cannot close a
	// channel mid-send.
	var slow []*client
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		// Client can't keep up, disconnect it
		b.log.Warn().Msg("Plot client too slow, disconnecting")
		b.RemoveClient(c)
	}
}
