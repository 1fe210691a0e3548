package gql

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	libpack_logging "github.com/lukaszraczylo/go-graphql-observer/logging"
)

const subscriptionBuffer = 16

// wsTransport speaks the graphql-ws protocol (connection_init / start /
// data / error / complete / stop) over a single shared websocket
// connection. One channel per active operation, registered in subs; the
// listen goroutine routes incoming frames by operation id and the entry is
// removed on the terminal event.
//
// Channel discipline: every send and every close happens while holding mu,
// and only while the subscription is still registered - unregistering and
// closing are one critical section, so a chunk can never be sent on a
// closed channel. Channels are sized subscriptionBuffer+1 and data sends
// stop at subscriptionBuffer, keeping one slot reserved so the terminal
// chunk always fits without blocking.
type wsTransport struct {
	logger   *libpack_logging.LogConfig
	endpoint string
	conn     *websocket.Conn
	subs     map[string]chan StreamChunk
	mu       sync.Mutex
	dialMu   sync.Mutex
	counter  int64
}

func newWsTransport(endpoint string, logger *libpack_logging.LogConfig) *wsTransport {
	return &wsTransport{
		endpoint: endpoint,
		logger:   logger,
		subs:     make(map[string]chan StreamChunk),
	}
}

func (w *wsTransport) nextID() string {
	return strconv.FormatInt(atomic.AddInt64(&w.counter, 1), 10)
}

func (w *wsTransport) Open(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
	conn, err := w.connect(req.Headers)
	if err != nil {
		return nil, err
	}

	id := w.nextID()
	ch := make(chan StreamChunk, subscriptionBuffer+1)

	w.mu.Lock()
	w.subs[id] = ch
	w.mu.Unlock()

	start := map[string]interface{}{
		"id":      id,
		"type":    "start",
		"payload": json.RawMessage(req.Body),
	}
	if err := w.send(conn, start); err != nil {
		w.remove(id, nil)
		return nil, fmt.Errorf("failed to send start message: %w", err)
	}

	// Consumer-side cancellation: stop the server-side operation and
	// unregister within one scheduling step.
	go func() {
		<-ctx.Done()
		w.stop(id)
	}()

	return ch, nil
}

// connect returns the shared connection, dialing it on first use. dialMu
// spans the whole check-dial-assign sequence so concurrent Opens share one
// connection instead of leaking the loser's dial.
func (w *wsTransport) connect(headers map[string]string) (*websocket.Conn, error) {
	w.dialMu.Lock()
	defer w.dialMu.Unlock()

	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn != nil {
		return conn, nil
	}

	header := http.Header{}
	header.Set("Sec-WebSocket-Protocol", "graphql-ws")
	for key, value := range headers {
		header.Set(key, value)
	}

	w.logger.Debug("Connecting to WebSocket endpoint", map[string]interface{}{"endpoint": w.endpoint})
	conn, resp, err := websocket.DefaultDialer.Dial(w.endpoint, header)
	if err != nil {
		if resp != nil {
			w.logger.Error("WebSocket handshake failed", map[string]interface{}{"status": resp.Status})
		}
		return nil, fmt.Errorf("failed to dial WebSocket: %w", err)
	}

	if err := conn.WriteJSON(map[string]interface{}{"type": "connection_init"}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send init message: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	go w.listen(conn)

	return conn, nil
}

// send serializes writers on the shared connection and refuses to write
// once a different connection took over.
func (w *wsTransport) send(conn *websocket.Conn, v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != conn {
		return fmt.Errorf("websocket connection closed")
	}
	return conn.WriteJSON(v)
}

func (w *wsTransport) listen(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.logger.Debug("WebSocket closed", map[string]interface{}{"error": err.Error()})
			} else {
				w.logger.Warn("WebSocket read error", map[string]interface{}{"error": err.Error()})
			}
			w.teardown(conn, err)
			return
		}

		messageType := gjson.GetBytes(message, "type").String()
		subID := gjson.GetBytes(message, "id").String()

		switch messageType {
		case "data", "next":
			payload := gjson.GetBytes(message, "payload")
			w.deliver(subID, StreamChunk{Payload: []byte(payload.Raw)})

		case "error":
			payload := gjson.GetBytes(message, "payload")
			w.remove(subID, &StreamChunk{Err: errUnhandled(fmt.Sprintf("subscription error: %s", payload.Raw), nil)})

		case "complete":
			w.remove(subID, nil)

		case "connection_ack":
			w.logger.Debug("WebSocket connection established")

		case "connection_error":
			w.logger.Error("WebSocket connection error", map[string]interface{}{"payload": gjson.GetBytes(message, "payload").Raw})

		case "ka", "connection_keep_alive":
			// server heartbeat, nothing to do

		default:
			w.logger.Warn("Unknown message type", map[string]interface{}{"type": messageType})
		}
	}
}

// deliver routes one data chunk to its subscription. Data sends stop one
// slot short of capacity so the terminal chunk always has room; a consumer
// that stopped draining has cancelled or stalled, and dropping its data
// chunk is safer than blocking the shared listen goroutine.
func (w *wsTransport) deliver(id string, chunk StreamChunk) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.subs[id]
	if !ok {
		return
	}
	if len(ch) >= subscriptionBuffer {
		w.logger.Warn("Dropping stream chunk - consumer not draining", map[string]interface{}{"subscription": id})
		return
	}
	ch <- chunk
}

// remove unregisters a subscription, delivers its terminal chunk if any
// (the reserved slot guarantees the send cannot block) and closes the
// channel, all in one critical section. Closing the channel signals normal
// completion to the adapter when no terminal chunk precedes it.
func (w *wsTransport) remove(id string, terminal *StreamChunk) {
	w.mu.Lock()
	ch, ok := w.subs[id]
	if ok {
		delete(w.subs, id)
		if terminal != nil {
			ch <- *terminal
		}
		close(ch)
	}
	remaining := len(w.subs)
	w.mu.Unlock()

	if ok && remaining == 0 {
		w.closeConn()
	}
}

// stop tells the server to end the operation and unregisters it locally.
func (w *wsTransport) stop(id string) {
	w.mu.Lock()
	conn := w.conn
	_, active := w.subs[id]
	w.mu.Unlock()

	if !active {
		return
	}
	if conn != nil {
		if err := w.send(conn, map[string]interface{}{"id": id, "type": "stop"}); err != nil {
			w.logger.Debug("Failed to send stop message", map[string]interface{}{"error": err.Error()})
		}
	}
	w.remove(id, nil)
}

// teardown fails every subscription of the connection whose read loop
// died. A newer connection may already have taken over the registry; its
// subscriptions belong to it, so a stale listener only closes its own conn.
func (w *wsTransport) teardown(conn *websocket.Conn, err error) {
	w.mu.Lock()
	if w.conn != conn {
		w.mu.Unlock()
		conn.Close()
		return
	}
	subs := w.subs
	w.subs = make(map[string]chan StreamChunk)
	w.conn = nil
	for _, ch := range subs {
		ch <- StreamChunk{Err: errConnection(err)}
		close(ch)
	}
	w.mu.Unlock()

	conn.Close()
}

func (w *wsTransport) closeConn() {
	w.mu.Lock()
	conn := w.conn
	if conn != nil {
		if err := conn.WriteJSON(map[string]interface{}{"type": "connection_terminate"}); err != nil {
			w.logger.Debug("Failed to send terminate message", map[string]interface{}{"error": err.Error()})
		}
		w.conn = nil
	}
	w.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}
