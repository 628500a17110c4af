package status

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PowerDNS/perfagent/breaker"
	"github.com/PowerDNS/perfagent/config"
	"github.com/PowerDNS/perfagent/delivery"
	"github.com/PowerDNS/perfagent/delivery/transport"
)

func TestPage(t *testing.T) {
	c := config.Default()
	c.APIKey = "super-secret-key"
	c.Revision = "abc123"
	c.Breaker.FailureThreshold = 1

	mem := transport.NewMemory()
	mem.SetError(errors.New("down"))
	client, err := delivery.New(c, delivery.Options{Transport: mem})
	require.NoError(t, err)
	assert.True(t, client.PostError("request.error", map[string]any{"class": "X"}))
	client.Wait()
	require.Equal(t, breaker.Open, client.Breaker().State())

	AddClient("default", client)
	defer RemoveClient("default")

	rec := httptest.NewRecorder()
	NewPage(c).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<td>default</td>")
	assert.Contains(t, body, "abc123")
	assert.Contains(t, body, `class="error">open</td>`)
	assert.Contains(t, body, "***")
	assert.NotContains(t, body, "super-secret-key")
}

func TestPageEmpty(t *testing.T) {
	rec := httptest.NewRecorder()
	NewPage(config.Default()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No delivery clients registered")
}

func TestPageNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	NewPage(config.Default()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
