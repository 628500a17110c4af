package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PowerDNS/perfagent/config"
	"github.com/PowerDNS/perfagent/execctx"
)

func TestTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New("https://collector.example.com/api", config.Calls{}, nil)
	client := c.Wrap(srv.Client())

	ctx, _ := execctx.Start(context.Background(), "")
	get := func(ctx context.Context, path string) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+path, nil)
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
	}

	get(ctx, "/users?id=5&api_key=abc")
	get(ctx, "/missing")
	get(context.Background(), "/untracked")

	calls := c.Drain(ctx)
	require.Len(t, calls, 2)
	assert.Equal(t, "GET", calls[0].Method)
	assert.Equal(t, "/users", calls[0].Path)
	assert.Equal(t, 200, calls[0].Status)
	assert.Equal(t, Library, calls[0].Library)
	assert.NotContains(t, calls[0].URL, "abc")
	assert.Contains(t, calls[0].URL, "id=5")
	assert.Equal(t, 404, calls[1].Status)
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := New("", config.Calls{}, nil)
	client := c.Wrap(nil)
	ctx, _ := execctx.Start(context.Background(), "")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+"/x", nil)
	require.NoError(t, err)
	_, err = client.Do(req)
	require.Error(t, err)

	calls := c.Drain(ctx)
	require.Len(t, calls, 1)
	assert.Equal(t, 0, calls[0].Status)
	assert.NotEmpty(t, calls[0].ErrorClass)
}

func TestTransportIgnoresOwnEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := New(srv.URL+"/api/v1/events", config.Calls{}, nil)
	client := c.Wrap(srv.Client())
	ctx, _ := execctx.Start(context.Background(), "")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Empty(t, c.Drain(ctx))
}

func TestCallLimit(t *testing.T) {
	c := New("", config.Calls{MaxCalls: 2}, nil)
	ctx, _ := execctx.Start(context.Background(), "")
	c.Start(ctx)
	for _, p := range []string{"/a", "/b", "/c", "/d"} {
		c.OnCall(ctx, Call{Method: "GET", URL: "http://example.com" + p, Path: p})
	}
	calls := c.Drain(ctx)
	require.Len(t, calls, 2)
	assert.Equal(t, "/c", calls[0].Path)
	assert.Equal(t, "/d", calls[1].Path)
	assert.Equal(t, 2, c.Evicted(ctx))
}
