package gql

import (
	"context"
	"fmt"

	"github.com/avast/retry-go/v4"
	"github.com/goccy/go-json"
)

// executeQuery runs one logical single-shot operation through the pipeline
// stages: header resolution, observer notification, transport dispatch,
// observer completion, status validation and body decoding. Transient
// failures (connection errors, 5xx) are retried with backoff; every physical
// attempt gets a fresh RequestContext and a fresh token set, so observers
// see one WillSend/terminal pair per attempt.
func (qe *QueryExecutor) executeQuery(ctx context.Context) ([]byte, error) {
	headers := resolveHeaders(qe.defaultHeaders, qe.Headers)

	var retries_max uint
	if qe.Retries {
		qe.Logger.Debug("Retries enabled - setting max retries", map[string]interface{}{"retries": qe.retries_number})
		retries_max = uint(qe.retries_number)
	} else {
		qe.Logger.Debug("Retries disabled - setting max retries", map[string]interface{}{"retries": 1})
		retries_max = 1
	}

	var result []byte

	err := retry.Do(
		func() error {
			body, err := qe.attempt(ctx, headers)
			if err != nil {
				return err
			}
			result = body
			return nil
		},
		retry.OnRetry(func(n uint, err error) {
			qe.Logger.Warning("Retrying query", map[string]interface{}{"error": err.Error(), "attempt": n})
		}),
		retry.RetryIf(shouldRetry),
		retry.Context(ctx),
		retry.Attempts(retries_max),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(qe.retries_delay),
		retry.LastErrorOnly(true),
	)

	if err != nil {
		if ctx.Err() != nil && KindOf(err) != ErrCancelled {
			err = errCancelled(err)
		}
		qe.Logger.Debug("Error while executing http request - target server", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	return result, nil
}

// attempt is one pass through stages 2-6 of the chain for a single physical
// send. Observers receive the raw wire-level outcome before any later stage
// judges it, and the failure hook fires after the response hook when both
// occur.
func (qe *QueryExecutor) attempt(ctx context.Context, headers map[string]string) ([]byte, error) {
	rc := newRequestContext(qe.Query.OperationName, qe.Query.Kind, qe.endpoint)
	tokens := qe.observers.notifyWillSend(rc)

	qe.Logger.Debug("Dispatching operation", map[string]interface{}{
		"operation":   rc.OperationName,
		"kind":        rc.OperationKind.String(),
		"correlation": rc.CorrelationID,
	})

	raw, err := qe.transport.RoundTrip(ctx, &Request{
		Endpoint: qe.endpoint,
		Headers:  headers,
		Body:     qe.Query.JsonQuery,
	})
	if err != nil {
		perr := classifyTransportError(ctx, err)
		failTokens(tokens, perr)
		return nil, perr
	}

	respondTokens(tokens, raw.RawStatus, raw.Body)

	if raw.Code < 200 || raw.Code >= 204 {
		perr := errNetwork(raw.RawStatus, fmt.Errorf("request to %q failed", qe.endpoint))
		failTokens(tokens, perr)
		return nil, perr
	}

	var queryResult queryResults
	if err := json.Unmarshal(raw.Body, &queryResult); err != nil {
		perr := errUnhandled(fmt.Sprintf("Error while unmarshalling http response: %s", err.Error()), err)
		failTokens(tokens, perr)
		return nil, perr
	}

	if len(queryResult.Errors) > 0 {
		qe.Logger.Debug("Error while executing query;", map[string]interface{}{"errors": queryResult.Errors})
		perr := errGraphQL(queryResult.Errors)
		failTokens(tokens, perr)
		return nil, perr
	}

	if queryResult.Data == nil {
		perr := errUnhandled("Error while executing query: no data", nil)
		failTokens(tokens, perr)
		return nil, perr
	}

	json_data, err := json.Marshal(queryResult.Data)
	if err != nil {
		perr := errUnhandled(fmt.Sprintf("Error while marshalling query result: %s", err.Error()), err)
		failTokens(tokens, perr)
		return nil, perr
	}

	return json_data, nil
}
