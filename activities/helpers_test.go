package activities

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/curiohq/curio/rest"
)

// apiTransport serves scripted backend responses keyed by "METHOD /path"
// and records every call for payload and ordering assertions.
type apiTransport struct {
	mu        sync.Mutex
	responses map[string]apiResponse
	calls     []apiCall
}

type apiResponse struct {
	status int
	body   string
}

type apiCall struct {
	method string
	path   string
	query  url.Values
	body   string
}

func (t *apiTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}
	t.mu.Lock()
	t.calls = append(t.calls, apiCall{
		method: req.Method,
		path:   req.URL.Path,
		query:  req.URL.Query(),
		body:   string(body),
	})
	resp, ok := t.responses[req.Method+" "+req.URL.Path]
	t.mu.Unlock()
	if !ok {
		resp = apiResponse{status: http.StatusOK, body: "{}"}
	}
	return &http.Response{
		StatusCode: resp.status,
		Body:       io.NopCloser(strings.NewReader(resp.body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}, nil
}

// callsTo returns the recorded calls matching method and path, in order.
func (t *apiTransport) callsTo(method, path string) []apiCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []apiCall
	for _, c := range t.calls {
		if c.method == method && c.path == path {
			out = append(out, c)
		}
	}
	return out
}

func (t *apiTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func newBackendClient(t *testing.T, tr *apiTransport) *rest.Client {
	t.Helper()
	c, err := rest.New(rest.Options{BaseURL: "http://backend", Token: "secret", Transport: tr})
	require.NoError(t, err)
	return c
}
