package scm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/instantiate/internal/domain"
)

func TestHeaders(t *testing.T) {
	gh := Headers(domain.ProviderGitHub, " tok ")
	assert.Equal(t, "Bearer tok", gh.Get("Authorization"))
	assert.Equal(t, "application/vnd.github+json", gh.Get("Accept"))

	gl := Headers(domain.ProviderGitLab, "tok")
	assert.Equal(t, "tok", gl.Get("PRIVATE-TOKEN"))
	assert.Empty(t, gl.Get("Authorization"))

	anon := Headers(domain.ProviderGitHub, "")
	assert.Empty(t, anon.Get("Authorization"))
}

func TestDoDecodesAndReportsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "v", r.Header.Get("X-Test"))
			_, _ = w.Write([]byte(`{"id": 7}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message": "Not Found"}`))
		}
	}))
	defer srv.Close()

	cli := New(WithHTTPClient(srv.Client()))
	var out struct {
		ID int `json:"id"`
	}
	err := cli.Do(context.Background(), http.MethodPost, srv.URL+"/ok", http.Header{"X-Test": {"v"}}, map[string]string{"a": "b"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 7, out.ID)

	err = cli.Do(context.Background(), http.MethodGet, srv.URL+"/missing", nil, nil, &out)
	var apiErr APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "Not Found", apiErr.Message)
}
