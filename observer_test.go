package gql

import (
	"errors"
	"sync"
)

type observedCall struct {
	rc    *RequestContext
	octx  interface{}
	err   error
	event string
	body  []byte
}

// recordingObserver captures every lifecycle callback for assertions.
type recordingObserver struct {
	mu      sync.Mutex
	calls   []observedCall
	nextCtx interface{}
}

func (o *recordingObserver) WillSend(rc *RequestContext) interface{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, observedCall{event: "willsend", rc: rc})
	return o.nextCtx
}

func (o *recordingObserver) OnResponse(octx interface{}, rc *RequestContext, status RawStatus, body []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, observedCall{event: "response", rc: rc, octx: octx, body: body})
}

func (o *recordingObserver) OnFailure(octx interface{}, rc *RequestContext, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, observedCall{event: "failure", rc: rc, octx: octx, err: err})
}

func (o *recordingObserver) events() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	events := make([]string, 0, len(o.calls))
	for _, call := range o.calls {
		events = append(events, call.event)
	}
	return events
}

func (o *recordingObserver) snapshot() []observedCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]observedCall(nil), o.calls...)
}

func (suite *Tests) Test_notifyWillSend_orderAndContext() {
	first := &recordingObserver{nextCtx: "ctx-1"}
	second := &recordingObserver{nextCtx: 42}
	registry := newObserverRegistry([]Observer{first, second})

	rc := newRequestContext("listUserBots", KindQuery, "http://127.0.0.1:9090/v1/graphql")
	tokens := registry.notifyWillSend(rc)

	assert.Len(tokens, 2)
	assert.Equal([]string{"willsend"}, first.events())
	assert.Equal([]string{"willsend"}, second.events())

	tokens[0].response(RawStatus{Code: 200, Status: "200 OK"}, []byte(`{}`))
	tokens[1].response(RawStatus{Code: 200, Status: "200 OK"}, []byte(`{}`))

	assert.Equal("ctx-1", first.snapshot()[1].octx)
	assert.Equal(42, second.snapshot()[1].octx)
}

func (suite *Tests) Test_RequestToken_atMostOnce() {
	obs := &recordingObserver{}
	registry := newObserverRegistry([]Observer{obs})
	tokens := registry.notifyWillSend(newRequestContext("", KindQuery, ""))

	tokens[0].response(RawStatus{Code: 200, Status: "200 OK"}, []byte(`{"data":{}}`))
	tokens[0].response(RawStatus{Code: 200, Status: "200 OK"}, []byte(`{"data":{}}`))
	tokens[0].failure(errors.New("decode failed"))
	tokens[0].failure(errors.New("decode failed"))

	assert.Equal([]string{"willsend", "response", "failure"}, obs.events())
}

func (suite *Tests) Test_RequestToken_noResponseAfterFailure() {
	obs := &recordingObserver{}
	registry := newObserverRegistry([]Observer{obs})
	tokens := registry.notifyWillSend(newRequestContext("", KindQuery, ""))

	tokens[0].failure(errors.New("connection refused"))
	tokens[0].response(RawStatus{Code: 200, Status: "200 OK"}, []byte(`{}`))

	assert.Equal([]string{"willsend", "failure"}, obs.events())
}

func (suite *Tests) Test_RequestToken_releasedObserverIsNoOp() {
	obs := &recordingObserver{}
	registry := newObserverRegistry([]Observer{obs})
	tokens := registry.notifyWillSend(newRequestContext("", KindQuery, ""))

	registry.release(obs)

	assert.NotPanics(func() {
		tokens[0].response(RawStatus{Code: 200, Status: "200 OK"}, []byte(`{}`))
		tokens[0].failure(errors.New("too late"))
	})
	assert.Equal([]string{"willsend"}, obs.events())
}

func (suite *Tests) Test_notifyWillSend_skipsReleasedObservers() {
	kept := &recordingObserver{}
	released := &recordingObserver{}
	registry := newObserverRegistry([]Observer{released, kept})

	registry.release(released)
	tokens := registry.notifyWillSend(newRequestContext("", KindQuery, ""))

	assert.Len(tokens, 1)
	assert.Empty(released.events())
	assert.Equal([]string{"willsend"}, kept.events())
}

func (suite *Tests) Test_correlationIDs_uniquePerAttempt() {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		rc := newRequestContext("dup", KindQuery, "http://127.0.0.1:9090/v1/graphql")
		assert.False(seen[rc.CorrelationID], "correlation id reused")
		seen[rc.CorrelationID] = true
	}
	assert.Len(seen, 100)
}
