package gql

import (
	"net/http"
	"time"

	"github.com/gookit/goutil/envutil"
	libpack_logging "github.com/lukaszraczylo/go-graphql-observer/logging"
)

// NewConnection builds a client from environment configuration. The
// observer list is fixed here for the lifetime of the pipeline; individual
// observers can later be detached with ReleaseObserver but never added.
func NewConnection(observers ...Observer) (b *BaseClient) {
	logger := libpack_logging.NewLogger()
	logger.SetLogLevel(envutil.Getenv("LOG_LEVEL", "info"))

	b = &BaseClient{
		endpoint:       envutil.Getenv("GRAPHQL_ENDPOINT", "https://api.github.com/graphql"),
		wsEndpoint:     envutil.Getenv("GRAPHQL_WS_ENDPOINT", "wss://api.github.com/graphql"),
		responseType:   envutil.Getenv("GRAPHQL_OUTPUT", "string"),
		Logger:         logger,
		observers:      newObserverRegistry(observers),
		defaultHeaders: map[string]interface{}{},
		retries_enable: envutil.GetBool("GRAPHQL_RETRIES_ENABLE", false),
		retries_delay:  time.Duration(envutil.GetInt("GRAPHQL_RETRIES_DELAY", 250)) * time.Millisecond,
		retries_number: envutil.GetInt("GRAPHQL_RETRIES_NUMBER", 3),
	}
	b.client = b.createHttpClient()
	b.transport = &httpTransport{client: b.client, logger: b.Logger}
	b.streamTransport = newWsTransport(b.wsEndpoint, b.Logger)

	b.Logger.Debug("Created new GraphQL client connection", map[string]interface{}{
		"endpoint":     b.endpoint,
		"ws_endpoint":  b.wsEndpoint,
		"responseType": b.responseType,
		"observers":    b.observers.len(),
	})
	return b
}

func (b *BaseClient) SetEndpoint(endpoint string) {
	b.endpoint = endpoint
	b.client = b.createHttpClient()
	b.transport = &httpTransport{client: b.client, logger: b.Logger}
}

func (b *BaseClient) SetWSEndpoint(endpoint string) {
	b.wsEndpoint = endpoint
	b.streamTransport = newWsTransport(endpoint, b.Logger)
}

func (b *BaseClient) SetOutput(responseType string) {
	// allowed are byte, string, mapstring
	b.responseType = responseType
}

// SetDefaultHeaders replaces the static header set attached to every
// request before per-call overrides are applied.
func (b *BaseClient) SetDefaultHeaders(headers map[string]interface{}) {
	if headers == nil {
		headers = map[string]interface{}{}
	}
	b.defaultHeaders = headers
}

func (b *BaseClient) SetHTTPClient(client *http.Client) {
	b.client = client
	b.transport = &httpTransport{client: client, logger: b.Logger}
}

// SetTransport swaps the single-shot transport collaborator, mainly for
// tests and custom dispatch layers.
func (b *BaseClient) SetTransport(transport Transport) {
	b.transport = transport
}

func (b *BaseClient) SetStreamTransport(transport StreamTransport) {
	b.streamTransport = transport
}

// ReleaseObserver severs the pipeline's back-reference to the observer.
// In-flight requests whose tokens still point at it degrade to no-ops
// instead of crashing; the pipeline never keeps the observer alive.
func (b *BaseClient) ReleaseObserver(obs Observer) {
	b.observers.release(obs)
}
