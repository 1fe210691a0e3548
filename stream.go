package gql

import (
	"context"
	"errors"
	"sync"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// StreamChunk is one upstream event of an incremental or subscription flow.
// Payload holds the raw GraphQL payload ({"data":...,"errors":...}); a
// non-nil Err is a transport-level failure and terminates the flow.
type StreamChunk struct {
	Payload []byte
	Err     error
}

// Stream is a lazy, single-consumer, forward-only sequence of payloads.
// Usage mirrors a database cursor:
//
//	for stream.Next() {
//	    payload := stream.Get()
//	    ...
//	}
//	if err := stream.Err(); err != nil { ... }
//
// Next blocks for the next upstream chunk and returns false on the terminal
// event. At most one terminal event is ever delivered: normal completion
// (Err returns nil) or exactly one error. Close cancels the producer side
// and is safe to call more than once; after Close no further payloads are
// yielded, buffered or not. A terminated stream cannot be restarted.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	ch     <-chan StreamChunk
	tokens []*RequestToken
	cur    []byte
	err    error
	done   bool
	closed bool
	mu     sync.Mutex
}

// adaptStream wraps a transport chunk channel into a Stream. The tokens
// belong to this session: the response hook fires once with the first raw
// payload, the failure hook once if the flow terminates with an error.
func adaptStream(ctx context.Context, cancel context.CancelFunc, ch <-chan StreamChunk, tokens []*RequestToken) *Stream {
	return &Stream{
		ctx:    ctx,
		cancel: cancel,
		ch:     ch,
		tokens: tokens,
	}
}

func (s *Stream) Next() bool {
	if s.done {
		return false
	}

	// Cancellation wins over buffered chunks.
	select {
	case <-s.ctx.Done():
		return s.finish(s.cancellationError())
	default:
	}

	select {
	case <-s.ctx.Done():
		return s.finish(s.cancellationError())
	case chunk, ok := <-s.ch:
		if !ok {
			return s.finish(nil)
		}
		if chunk.Err != nil {
			return s.finish(s.classifyChunkError(chunk.Err))
		}
		return s.yield(chunk.Payload)
	}
}

// Get returns the data portion of the payload yielded by the last
// successful Next call.
func (s *Stream) Get() []byte {
	return s.cur
}

func (s *Stream) Err() error {
	return s.err
}

// Close cancels the underlying transport subscription. Idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}

func (s *Stream) yield(payload []byte) bool {
	respondTokens(s.tokens, RawStatus{Code: 200, Status: "200 OK"}, payload)

	// A chunk carrying operation-level errors terminates the flow without
	// yielding its partial payload.
	if errsField := gjson.GetBytes(payload, "errors"); errsField.Exists() && errsField.IsArray() && len(errsField.Array()) > 0 {
		var queryResult queryResults
		if err := json.Unmarshal(payload, &queryResult); err != nil {
			return s.finish(errUnhandled("Error while unmarshalling stream payload", err))
		}
		return s.finish(errGraphQL(queryResult.Errors))
	}

	data := gjson.GetBytes(payload, "data")
	if !data.Exists() {
		return s.finish(errUnhandled("Error while reading stream payload: no data", nil))
	}

	s.cur = []byte(data.Raw)
	return true
}

// finish records the terminal event, cancels the producer and fires the
// failure hook when the flow ended with an error. Consumer-initiated Close
// terminates without an error.
func (s *Stream) finish(err error) bool {
	s.done = true
	s.err = err
	s.cancel()
	if err != nil {
		failTokens(s.tokens, err)
	}
	return false
}

func (s *Stream) cancellationError() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil
	}
	return errCancelled(s.ctx.Err())
}

func (s *Stream) classifyChunkError(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return errConnection(err)
}
