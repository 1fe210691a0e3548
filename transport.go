package gql

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"strings"
	"time"

	libpack_logging "github.com/lukaszraczylo/go-graphql-observer/logging"
	"golang.org/x/net/http2"
)

// Transport performs one single-shot round trip for a fully-headered
// request. It is the only suspension point of the pipeline: everything
// around it is synchronous bookkeeping.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*RawResponse, error)
}

// StreamTransport opens an incremental or subscription flow. The returned
// channel carries raw payload chunks and is closed when the server signals
// completion; cancelling ctx must promptly tear the flow down.
type StreamTransport interface {
	Open(ctx context.Context, req *Request) (<-chan StreamChunk, error)
}

type httpTransport struct {
	client *http.Client
	logger *libpack_logging.LogConfig
}

func (t *httpTransport) RoundTrip(ctx context.Context, req *Request) (*RawResponse, error) {
	httpRequest, err := http.NewRequestWithContext(ctx, "POST", req.Endpoint, bytes.NewReader(req.Body))
	if err != nil {
		t.logger.Error("Can't create HTTP request;", map[string]interface{}{"error": err})
		return nil, err
	}

	httpRequest.Header.Set("Content-Type", "application/json")
	for key, value := range req.Headers {
		httpRequest.Header.Set(key, value)
	}

	httpResponse, err := t.client.Do(httpRequest)
	if err != nil {
		t.logger.Debug("Error while executing http request", map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	defer func() {
		if _, err := io.Copy(io.Discard, httpResponse.Body); err != nil {
			t.logger.Debug("Error while discarding http response body;", map[string]interface{}{"error": err.Error()})
		}
		httpResponse.Body.Close()
	}()

	var reader io.ReadCloser
	if httpResponse.Header.Get("Content-Encoding") == "gzip" {
		reader, err = gzip.NewReader(httpResponse.Body)
		if err != nil {
			t.logger.Debug("Error while creating gzip reader;", map[string]interface{}{"error": err.Error()})
			return nil, err
		}
		defer reader.Close()
	} else {
		reader = httpResponse.Body
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		t.logger.Debug("Error while reading http response;", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	return &RawResponse{
		RawStatus: RawStatus{
			Code:   httpResponse.StatusCode,
			Status: httpResponse.Status,
		},
		Body: body,
	}, nil
}

func (b *BaseClient) createHttpClient() (http_client *http.Client) {
	// TLS config only for HTTPS endpoints
	var tlsClientConfig *tls.Config
	if strings.HasPrefix(b.endpoint, "https://") {
		tlsClientConfig = &tls.Config{
			InsecureSkipVerify: true, // TODO: Make this configurable via environment variable
		}
	}

	// HTTP/2 for both http:// (h2c via AllowHTTP) and https:// endpoints
	http2Transport := &http2.Transport{
		AllowHTTP:          true,
		TLSClientConfig:    tlsClientConfig,
		ReadIdleTimeout:    30 * time.Second,
		PingTimeout:        10 * time.Second,
		WriteByteTimeout:   10 * time.Second,
		DisableCompression: true,
	}

	http_client = &http.Client{
		Timeout:   30 * time.Second,
		Transport: http2Transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	if strings.HasPrefix(b.endpoint, "http://") {
		b.Logger.Debug("Using HTTP/2 Cleartext (h2c) over http")
	} else if strings.HasPrefix(b.endpoint, "https://") {
		b.Logger.Debug("Using HTTP/2 over TLS (https)")
	} else {
		b.Logger.Error("Invalid endpoint - must start with http:// or https://")
		return nil
	}

	return http_client
}
