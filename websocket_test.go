package gql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	libpack_logging "github.com/lukaszraczylo/go-graphql-observer/logging"
)

func quietLogger() *libpack_logging.LogConfig {
	logger := libpack_logging.NewLogger()
	logger.SetLogLevel("critical")
	return logger
}

// startBlockingWsServer upgrades and then just sits in the read loop,
// keeping every operation open until the client goes away.
func startBlockingWsServer(onUpgrade func()) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if onUpgrade != nil {
			onUpgrade()
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg map[string]interface{}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg["type"] == "connection_init" {
				conn.WriteJSON(map[string]interface{}{"type": "connection_ack"})
			}
		}
	}))
}

type wsServerScript func(conn *websocket.Conn, id string, payload json.RawMessage)

// startWsMockServer runs a graphql-ws speaking endpoint; script decides what
// each started operation receives.
func startWsMockServer(script wsServerScript) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var msg struct {
				Payload json.RawMessage `json:"payload"`
				Type    string          `json:"type"`
				ID      string          `json:"id"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Type {
			case "connection_init":
				conn.WriteJSON(map[string]interface{}{"type": "connection_ack"})
			case "start":
				script(conn, msg.ID, msg.Payload)
			case "stop":
				conn.WriteJSON(map[string]interface{}{"type": "complete", "id": msg.ID})
			case "connection_terminate":
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + server.URL[4:]
}

func (suite *Tests) Test_Subscribe_endToEnd() {
	server := startWsMockServer(func(conn *websocket.Conn, id string, payload json.RawMessage) {
		for i := 1; i <= 2; i++ {
			conn.WriteJSON(map[string]interface{}{
				"type":    "data",
				"id":      id,
				"payload": map[string]interface{}{"data": map[string]interface{}{"counter": i}},
			})
		}
		conn.WriteJSON(map[string]interface{}{"type": "complete", "id": id})
	})
	defer server.Close()

	b := NewConnection()
	b.SetWSEndpoint(wsURL(server))

	stream, err := b.Subscribe(`subscription { counter }`, nil, nil)
	assert.NoError(err)

	var payloads []string
	for stream.Next() {
		payloads = append(payloads, string(stream.Get()))
	}

	assert.NoError(stream.Err())
	assert.Equal([]string{`{"counter":1}`, `{"counter":2}`}, payloads)
}

func (suite *Tests) Test_Subscribe_serverError() {
	server := startWsMockServer(func(conn *websocket.Conn, id string, payload json.RawMessage) {
		conn.WriteJSON(map[string]interface{}{
			"type":    "error",
			"id":      id,
			"payload": map[string]interface{}{"message": "operation rejected"},
		})
	})
	defer server.Close()

	b := NewConnection()
	b.SetWSEndpoint(wsURL(server))

	stream, err := b.Subscribe(`subscription { counter }`, nil, nil)
	assert.NoError(err)

	assert.False(stream.Next())
	assert.Error(stream.Err())
	assert.Contains(stream.Err().Error(), "operation rejected")
}

func (suite *Tests) Test_Subscribe_startPayloadCarriesQuery() {
	received := make(chan string, 1)
	server := startWsMockServer(func(conn *websocket.Conn, id string, payload json.RawMessage) {
		received <- string(payload)
		conn.WriteJSON(map[string]interface{}{"type": "complete", "id": id})
	})
	defer server.Close()

	b := NewConnection()
	b.SetWSEndpoint(wsURL(server))

	stream, err := b.Subscribe(`subscription tick { counter }`, map[string]interface{}{"every": 5}, nil)
	assert.NoError(err)
	defer stream.Close()

	select {
	case payload := <-received:
		assert.Contains(payload, "subscription tick { counter }")
		assert.Contains(payload, `"every":5`)
	case <-time.After(2 * time.Second):
		suite.T().Fatal("server never received the start payload")
	}
}

func (suite *Tests) Test_Subscribe_closeStopsOperation() {
	started := make(chan string, 1)
	server := startWsMockServer(func(conn *websocket.Conn, id string, payload json.RawMessage) {
		started <- id
		// keep the operation open; only a stop message ends it
	})
	defer server.Close()

	b := NewConnection()
	b.SetWSEndpoint(wsURL(server))

	stream, err := b.Subscribe(`subscription { counter }`, nil, nil)
	assert.NoError(err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		suite.T().Fatal("operation never started")
	}

	stream.Close()

	done := make(chan bool, 1)
	go func() {
		done <- stream.Next()
	}()
	select {
	case next := <-done:
		assert.False(next)
	case <-time.After(2 * time.Second):
		suite.T().Fatal("closed stream still blocking")
	}
	assert.NoError(stream.Err())
}

func (suite *Tests) Test_Subscribe_dialFailure() {
	b := NewConnection()
	b.SetWSEndpoint("ws://127.0.0.1:1/graphql")

	_, err := b.Subscribe(`subscription { counter }`, nil, nil)
	assert.Error(err)
	assert.Equal(ErrConnection, KindOf(err))
}

func (suite *Tests) Test_wsTransport_terminalErrorSurvivesFullBuffer() {
	w := newWsTransport("ws://127.0.0.1:9090/v1/graphql", quietLogger())
	ch := make(chan StreamChunk, subscriptionBuffer+1)
	w.mu.Lock()
	w.subs["1"] = ch
	w.mu.Unlock()

	// stall the consumer until the buffer is beyond full
	for i := 0; i < subscriptionBuffer+5; i++ {
		w.deliver("1", StreamChunk{Payload: []byte(`{"data":{"counter":1}}`)})
	}
	w.remove("1", &StreamChunk{Err: errUnhandled("subscription error: rejected", nil)})

	ctx, cancel := context.WithCancel(context.Background())
	stream := adaptStream(ctx, cancel, ch, nil)

	done := make(chan int, 1)
	go func() {
		count := 0
		for stream.Next() {
			count++
		}
		done <- count
	}()

	select {
	case count := <-done:
		assert.Equal(subscriptionBuffer, count)
		assert.Error(stream.Err())
		assert.Equal(ErrUnhandled, KindOf(stream.Err()))
	case <-time.After(2 * time.Second):
		suite.T().Fatal("consumer hung after draining the buffer - terminal event lost")
	}
}

func (suite *Tests) Test_wsTransport_deliverAndStopAreSerialized() {
	w := newWsTransport("ws://127.0.0.1:9090/v1/graphql", quietLogger())

	assert.NotPanics(func() {
		var wg sync.WaitGroup
		for i := 0; i < 64; i++ {
			id := strconv.Itoa(i)
			ch := make(chan StreamChunk, subscriptionBuffer+1)
			w.mu.Lock()
			w.subs[id] = ch
			w.mu.Unlock()

			wg.Add(2)
			go func(id string) {
				defer wg.Done()
				for j := 0; j < 200; j++ {
					w.deliver(id, StreamChunk{Payload: []byte(`{"data":{"counter":1}}`)})
				}
			}(id)
			go func(id string) {
				defer wg.Done()
				w.stop(id)
			}(id)
		}
		wg.Wait()
	})
}

func (suite *Tests) Test_Subscribe_concurrentOpensShareOneConnection() {
	var dials int64
	server := startBlockingWsServer(func() {
		atomic.AddInt64(&dials, 1)
	})
	defer server.Close()

	b := NewConnection()
	b.SetWSEndpoint(wsURL(server))

	var mu sync.Mutex
	var streams []*Stream
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream, err := b.Subscribe(`subscription { counter }`, nil, nil)
			if err != nil {
				return
			}
			mu.Lock()
			streams = append(streams, stream)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(streams, 4)
	assert.Equal(int64(1), atomic.LoadInt64(&dials))

	for _, stream := range streams {
		stream.Close()
	}
}

func (suite *Tests) Test_wsTransport_teardownIgnoresStaleConnection() {
	server := startBlockingWsServer(nil)
	defer server.Close()

	stale, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	assert.NoError(err)
	current, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	assert.NoError(err)
	defer current.Close()

	w := newWsTransport(wsURL(server), quietLogger())
	ch := make(chan StreamChunk, subscriptionBuffer+1)
	w.mu.Lock()
	w.conn = current
	w.subs["1"] = ch
	w.mu.Unlock()

	// the old listener's read failure must not wipe the new registry
	w.teardown(stale, errors.New("read on stale connection failed"))

	w.mu.Lock()
	_, stillRegistered := w.subs["1"]
	keptConn := w.conn == current
	w.mu.Unlock()

	assert.True(stillRegistered)
	assert.True(keptConn)
	select {
	case <-ch:
		suite.T().Fatal("subscription of the newer connection was disturbed")
	default:
	}
}

func (suite *Tests) Test_Subscribe_dialHeadersForwarded() {
	headerSeen := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headerSeen <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg map[string]interface{}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg["type"] == "connection_init" {
				conn.WriteJSON(map[string]interface{}{"type": "connection_ack"})
			}
		}
	}))
	defer server.Close()

	b := NewConnection()
	b.SetWSEndpoint(wsURL(server))
	b.SetDefaultHeaders(map[string]interface{}{"Authorization": "Bearer T"})

	stream, err := b.Subscribe(`subscription { counter }`, nil, nil)
	assert.NoError(err)
	defer stream.Close()

	select {
	case auth := <-headerSeen:
		assert.Equal("Bearer T", auth)
	case <-time.After(2 * time.Second):
		suite.T().Fatal("server never saw the dial headers")
	}
}
