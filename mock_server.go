// mock_server.go
package gql

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"golang.org/x/net/http2"
)

// StartMockServer runs an HTTP/2 GraphQL endpoint used by the end-to-end
// tests. The response is selected by the query content:
//
//	echoHeaders - returns the request headers inside the data payload
//	viewer      - fixed success payload
//	boom        - HTTP 200 with an operation-level error
//	garbled     - HTTP 200 with an unparseable body
//	failing     - HTTP 500
func StartMockServer() *httptest.Server {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req struct {
			Variables map[string]interface{} `json:"variables"`
			Query     string                 `json:"query"`
		}
		if err = json.Unmarshal(bodyBytes, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")

		switch {
		case strings.Contains(req.Query, "echoHeaders"):
			headers := map[string]string{}
			for name := range r.Header {
				headers[name] = r.Header.Get(name)
			}
			payload, _ := json.Marshal(map[string]interface{}{
				"data": map[string]interface{}{"headers": headers},
			})
			w.Write(payload)
		case strings.Contains(req.Query, "viewer"):
			w.Write([]byte(`{"data":{"viewer":{"login":"mockuser"}}}`))
		case strings.Contains(req.Query, "boom"):
			w.Write([]byte(`{"errors":[{"message":"boom"}]}`))
		case strings.Contains(req.Query, "garbled"):
			w.Write([]byte(`this is not json`))
		case strings.Contains(req.Query, "failing"):
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"errors":[{"message":"Unknown query"}]}`))
		}
	})

	// Unstarted server so HTTP/2 can be configured before TLS startup
	server := httptest.NewUnstartedServer(handler)
	http2.ConfigureServer(server.Config, &http2.Server{})
	server.TLS = server.Config.TLSConfig
	server.StartTLS()
	return server
}
