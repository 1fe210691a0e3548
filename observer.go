package gql

import (
	"sync"
)

// Observer is a passive collaborator notified of request lifecycle events.
// It cannot alter the request or the response. WillSend returns an opaque,
// observer-defined context value; the pipeline threads that same value back
// into OnResponse and OnFailure so the observer can correlate the events of
// one attempt without keeping its own lookup table.
//
// Hooks run synchronously on the request path and must not perform I/O.
// Across concurrent requests there is no ordering guarantee, so observers
// accumulating state across calls must synchronize internally.
type Observer interface {
	WillSend(rc *RequestContext) interface{}
	OnResponse(octx interface{}, rc *RequestContext, status RawStatus, body []byte)
	OnFailure(octx interface{}, rc *RequestContext, err error)
}

// observerSlot is the externally-owned cell a token points back to. The
// pipeline never holds an observer directly; releasing the slot severs the
// back-reference and turns every outstanding token into a no-op.
type observerSlot struct {
	mu  sync.Mutex
	obs Observer
}

func (s *observerSlot) get() Observer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.obs
}

func (s *observerSlot) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs = nil
}

// ObserverRegistry holds the observer list supplied at pipeline
// construction. The list itself is never mutated afterwards; only the
// slot contents can be released.
type ObserverRegistry struct {
	slots []*observerSlot
}

func newObserverRegistry(observers []Observer) *ObserverRegistry {
	slots := make([]*observerSlot, 0, len(observers))
	for _, obs := range observers {
		slots = append(slots, &observerSlot{obs: obs})
	}
	return &ObserverRegistry{slots: slots}
}

// notifyWillSend mints one token per live observer, in registration order,
// firing each observer's WillSend hook synchronously. A hook that panics is
// a programming error in the observer and propagates to the caller of the
// pipeline; swallowing it would silently corrupt correlation state.
func (r *ObserverRegistry) notifyWillSend(rc *RequestContext) []*RequestToken {
	tokens := make([]*RequestToken, 0, len(r.slots))
	for _, slot := range r.slots {
		obs := slot.get()
		if obs == nil {
			continue
		}
		tokens = append(tokens, &RequestToken{
			slot: slot,
			rc:   rc,
			octx: obs.WillSend(rc),
		})
	}
	return tokens
}

// release severs the back-reference to the given observer. In-flight
// requests keep running; their tokens just stop delivering to it.
func (r *ObserverRegistry) release(target Observer) {
	for _, slot := range r.slots {
		if slot.get() == target {
			slot.release()
		}
	}
}

func (r *ObserverRegistry) len() int {
	return len(r.slots)
}

// RequestToken pairs one observer with one send attempt. It captures the
// observer's opaque context at creation (WillSend has already fired by
// then) and delivers at most one OnResponse and at most one OnFailure,
// always in that order when both occur. Delivery after the owning slot was
// released is a silent no-op.
type RequestToken struct {
	slot      *observerSlot
	rc        *RequestContext
	octx      interface{}
	mu        sync.Mutex
	responded bool
	failed    bool
}

func (t *RequestToken) response(status RawStatus, body []byte) {
	t.mu.Lock()
	if t.responded || t.failed {
		t.mu.Unlock()
		return
	}
	t.responded = true
	t.mu.Unlock()

	obs := t.slot.get()
	if obs == nil {
		return
	}
	obs.OnResponse(t.octx, t.rc, status, body)
}

func (t *RequestToken) failure(err error) {
	t.mu.Lock()
	if t.failed {
		t.mu.Unlock()
		return
	}
	t.failed = true
	t.mu.Unlock()

	obs := t.slot.get()
	if obs == nil {
		return
	}
	obs.OnFailure(t.octx, t.rc, err)
}

func respondTokens(tokens []*RequestToken, status RawStatus, body []byte) {
	for _, token := range tokens {
		token.response(status, body)
	}
}

func failTokens(tokens []*RequestToken, err error) {
	for _, token := range tokens {
		token.failure(err)
	}
}
