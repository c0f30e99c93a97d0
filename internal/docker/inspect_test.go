package docker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/docker/docker/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient points the SDK at a fake daemon answering container listings.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	inner, err := client.NewClientWithOpts(
		client.WithHost("tcp://"+strings.TrimPrefix(srv.URL, "http://")),
		client.WithVersion("1.45"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { inner.Close() })
	return &Client{inner: inner}
}

func TestContainerStatesListsLiveContainersOnly(t *testing.T) {
	var query map[string][]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/containers/json") {
			http.NotFound(w, r)
			return
		}
		query = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{
			{"Id": "web", "State": "running"},
			{"Id": "worker", "State": "running"},
		})
	})

	states, err := c.ContainerStates(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"running", "running"}, states)

	assert.NotContains(t, query, "all")
	require.Contains(t, query, "filters")
	assert.Contains(t, query["filters"][0], ComposeProjectLabel+"=demo")
}

func TestPublishedPortsSkipsUnpublished(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{
			{"Id": "a", "State": "running", "Ports": []map[string]any{
				{"PrivatePort": 80, "PublicPort": 10001, "Type": "tcp"},
				{"PrivatePort": 9000, "Type": "tcp"},
			}},
		})
	})

	ports, err := c.PublishedPorts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[int]struct{}{10001: {}}, ports)
}

func TestNilClientIsNotInitialized(t *testing.T) {
	var c *Client
	_, err := c.ContainerStates(context.Background(), "demo")
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, c.Ping(context.Background()), ErrNotInitialized)
}
