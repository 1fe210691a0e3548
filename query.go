package gql

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

func (b *BaseClient) compileQuery(query string, variables map[string]interface{}) *Query {
	if strings.TrimSpace(query) == "" {
		b.Logger.Error("Can't compile query", map[string]interface{}{"error": "query is empty"})
		return nil
	}

	jsonQuery, err := json.Marshal(&Query{Query: query, Variables: variables})
	if err != nil {
		b.Logger.Error("Can't convert query to JSON", map[string]interface{}{"error": err.Error()})
		return nil
	}

	return &Query{
		Query:         query,
		Variables:     variables,
		JsonQuery:     jsonQuery,
		Kind:          operationKindOf(query),
		OperationName: operationNameOf(query),
	}
}

func operationKindOf(query string) OperationKind {
	trimmed := strings.TrimSpace(query)
	switch {
	case strings.HasPrefix(trimmed, "mutation"):
		return KindMutation
	case strings.HasPrefix(trimmed, "subscription"):
		return KindSubscription
	default:
		return KindQuery
	}
}

// operationNameOf extracts the optional operation name following the
// top-level keyword, e.g. "listUserBots" in
// "query listUserBots($id: Int!) { ... }".
func operationNameOf(query string) string {
	trimmed := strings.TrimSpace(query)
	fields := strings.FieldsFunc(trimmed, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '(' || r == '{'
	})
	if len(fields) < 2 {
		return ""
	}
	switch fields[0] {
	case "query", "mutation", "subscription":
		return fields[1]
	default:
		return ""
	}
}

// Query executes a single-shot operation and decodes the response payload
// per the configured output type.
func (b *BaseClient) Query(query string, variables map[string]interface{}, headers map[string]interface{}) (any, error) {
	return b.QueryCtx(context.Background(), query, variables, headers)
}

// QueryCtx is Query with caller-controlled cancellation. Cancelling ctx
// aborts the in-flight transport round trip and resolves the call with a
// cancellation error instead of hanging.
func (b *BaseClient) QueryCtx(ctx context.Context, query string, variables map[string]interface{}, headers map[string]interface{}) (any, error) {
	compiledQuery := b.compileQuery(query, variables)
	if compiledQuery == nil {
		return nil, fmt.Errorf("can't compile query")
	}
	b.Logger.Debug("Compiled query", map[string]interface{}{"query": sanitizeForLogging(compiledQuery.Query)})

	qe := &QueryExecutor{
		BaseClient: b,
		Query:      compiledQuery,
		Headers:    headers,
		Retries:    b.retries_enable,
	}

	rv, err := qe.executeQuery(ctx)
	if err != nil {
		b.Logger.Error("Error executing query", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	return b.decodeResponse(rv)
}

// QueryStream executes an operation declared for incremental delivery
// (e.g. @defer) and returns its payloads as a lazy stream.
func (b *BaseClient) QueryStream(query string, variables map[string]interface{}, headers map[string]interface{}) (*Stream, error) {
	return b.QueryStreamCtx(context.Background(), query, variables, headers)
}

func (b *BaseClient) QueryStreamCtx(ctx context.Context, query string, variables map[string]interface{}, headers map[string]interface{}) (*Stream, error) {
	return b.openStream(ctx, query, variables, headers)
}

// Subscribe opens a long-lived subscription. The returned stream terminates
// only on cancellation, transport close or error.
func (b *BaseClient) Subscribe(query string, variables map[string]interface{}, headers map[string]interface{}) (*Stream, error) {
	return b.SubscribeCtx(context.Background(), query, variables, headers)
}

func (b *BaseClient) SubscribeCtx(ctx context.Context, query string, variables map[string]interface{}, headers map[string]interface{}) (*Stream, error) {
	return b.openStream(ctx, query, variables, headers)
}

// openStream runs the stream variant of the chain: header resolution,
// token mint, transport open. Tokens travel with the session; the adapter
// fires their terminal hooks.
func (b *BaseClient) openStream(ctx context.Context, query string, variables map[string]interface{}, headers map[string]interface{}) (*Stream, error) {
	compiledQuery := b.compileQuery(query, variables)
	if compiledQuery == nil {
		return nil, fmt.Errorf("can't compile query")
	}

	resolved := resolveHeaders(b.defaultHeaders, headers)
	rc := newRequestContext(compiledQuery.OperationName, compiledQuery.Kind, b.wsEndpoint)
	tokens := b.observers.notifyWillSend(rc)

	streamCtx, cancel := context.WithCancel(ctx)
	ch, err := b.streamTransport.Open(streamCtx, &Request{
		Endpoint: b.wsEndpoint,
		Headers:  resolved,
		Body:     compiledQuery.JsonQuery,
	})
	if err != nil {
		cancel()
		perr := classifyTransportError(ctx, err)
		failTokens(tokens, perr)
		b.Logger.Error("Error opening stream", map[string]interface{}{"error": perr.Error()})
		return nil, perr
	}

	b.Logger.Debug("Stream opened", map[string]interface{}{
		"operation":   rc.OperationName,
		"kind":        rc.OperationKind.String(),
		"correlation": rc.CorrelationID,
	})

	return adaptStream(streamCtx, cancel, ch, tokens), nil
}

func (b *BaseClient) decodeResponse(response []byte) (any, error) {
	switch b.responseType {
	case "mapstring":
		var result map[string]interface{}
		err := json.Unmarshal(response, &result)
		if err != nil {
			b.Logger.Error("Can't decode response into mapstring", map[string]interface{}{"error": err.Error()})
			return nil, err
		}
		return result, nil
	case "string":
		return string(response), nil
	case "byte":
		return response, nil
	default:
		b.Logger.Error("Can't decode response", map[string]interface{}{"error": "unknown response type"})
		return nil, fmt.Errorf("Can't decode response - unknown response type specified")
	}
}
