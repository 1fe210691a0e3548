package gql

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	libpack_logging "github.com/lukaszraczylo/go-graphql-observer/logging"
)

type BaseClient struct {
	Logger          *libpack_logging.LogConfig
	client          *http.Client
	transport       Transport
	streamTransport StreamTransport
	observers       *ObserverRegistry
	endpoint        string
	wsEndpoint      string
	responseType    string
	defaultHeaders  map[string]interface{}
	retries_delay   time.Duration
	retries_number  int
	retries_enable  bool
}

// OperationKind classifies a GraphQL document by its top-level keyword.
type OperationKind int

const (
	KindQuery OperationKind = iota
	KindMutation
	KindSubscription
)

var kindNames = []string{"query", "mutation", "subscription"}

func (k OperationKind) String() string {
	return kindNames[int(k)]
}

// RequestContext describes one physical send attempt. It is created right
// before dispatch and read-only afterwards. Every attempt gets a fresh
// correlation id, retries included, so the id can safely key a lookup table.
type RequestContext struct {
	OperationName string
	OperationKind OperationKind
	Endpoint      string
	CorrelationID string
}

func newRequestContext(name string, kind OperationKind, endpoint string) *RequestContext {
	return &RequestContext{
		OperationName: name,
		OperationKind: kind,
		Endpoint:      endpoint,
		CorrelationID: uuid.NewString(),
	}
}

type Query struct {
	Variables     map[string]interface{} `json:"variables,omitempty"`
	Query         string                 `json:"query,omitempty"`
	JsonQuery     []byte                 `json:"-"`
	OperationName string                 `json:"-"`
	Kind          OperationKind          `json:"-"`
}

type QueryExecutor struct {
	*BaseClient
	Query   *Query
	Headers map[string]interface{}
	Retries bool
}

// Request is the fully-headered descriptor handed to a Transport.
type Request struct {
	Endpoint string
	Headers  map[string]string
	Body     []byte
}

// RawStatus is the wire-level outcome observers see before any
// interpretation of the response takes place.
type RawStatus struct {
	Code   int
	Status string
}

// RawResponse is what a Transport round trip produced, undecoded.
type RawResponse struct {
	RawStatus
	Body []byte
}

type queryResults struct {
	Data   interface{} `json:"data"`
	Errors []GQLError  `json:"errors"`
}
