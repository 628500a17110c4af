package subscriber

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PowerDNS/perfagent/collector/query"
	"github.com/PowerDNS/perfagent/execctx"
)

func TestMiddleware(t *testing.T) {
	e := newEnv(t, nil)
	e.sub.RouteNamer = func(r *http.Request) (string, string) {
		return "UsersController", "create"
	}
	h := e.sub.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, execctx.Active(r.Context()))
		e.sub.Collectors().SQL.OnQuery(r.Context(), query.Query{SQL: "INSERT INTO users VALUES (1)"})
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/users", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)

	metrics, _ := e.envelopes()
	require.Len(t, metrics, 1)
	p := metrics[0].Payload
	assert.Equal(t, "UsersController", p["controller"])
	assert.Equal(t, "create", p["action"])
	assert.Equal(t, 201.0, p["status"])
	assert.Len(t, p["sql_queries"], 1)
}

func TestMiddlewareDefaultNamer(t *testing.T) {
	e := newEnv(t, nil)
	h := e.sub.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	metrics, _ := e.envelopes()
	require.Len(t, metrics, 1)
	assert.Equal(t, "/health", metrics[0].Payload["controller"])
	assert.Equal(t, "GET", metrics[0].Payload["action"])
	assert.Equal(t, 200.0, metrics[0].Payload["status"])
}

func TestMiddlewarePanic(t *testing.T) {
	e := newEnv(t, nil)
	boom := errors.New("boom")
	h := e.sub.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(boom)
	}))

	var recovered any
	func() {
		defer func() {
			recovered = recover()
		}()
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}()
	assert.Same(t, boom, recovered, "host panic must propagate unchanged")

	metrics, errs := e.envelopes()
	require.Len(t, metrics, 1)
	assert.Equal(t, 500.0, metrics[0].Payload["status"])
	require.Len(t, errs, 1)
	assert.Equal(t, "*errors.errorString", errs[0].Payload["class"])
	assert.Equal(t, "panic: boom", errs[0].Payload["message"])
}

func TestTrackJob(t *testing.T) {
	e := newEnv(t, nil)
	jobErr := errors.New("smtp down")
	err := e.sub.TrackJob(context.Background(), "MailJob", "mailers", func(ctx context.Context) error {
		assert.True(t, execctx.Active(ctx))
		e.sub.Collectors().SQL.OnQuery(ctx, query.Query{SQL: "SELECT 1"})
		return jobErr
	})
	assert.Same(t, jobErr, err)

	metrics, errs := e.envelopes()
	require.Len(t, metrics, 1)
	p := metrics[0].Payload
	assert.Equal(t, EventJob, metrics[0].Event)
	assert.Equal(t, "MailJob", p["job_class"])
	assert.Equal(t, "mailers", p["queue"])
	assert.Equal(t, "failed", p["status"])
	assert.NotContains(t, p, "controller")
	require.Len(t, errs, 1)
	assert.Equal(t, EventJobError, errs[0].Event)
}

func TestTrackJobPanic(t *testing.T) {
	e := newEnv(t, nil)
	assert.PanicsWithValue(t, "job bug", func() {
		_ = e.sub.TrackJob(context.Background(), "BadJob", "default", func(ctx context.Context) error {
			panic("job bug")
		})
	})
	_, errs := e.envelopes()
	require.Len(t, errs, 1)
	assert.Equal(t, "*subscriber.PanicError", errs[0].Payload["class"])
}

func TestTrackJobSuccess(t *testing.T) {
	e := newEnv(t, nil)
	require.NoError(t, e.sub.TrackJob(context.Background(), "OkJob", "default", func(ctx context.Context) error {
		return nil
	}))
	metrics, errs := e.envelopes()
	require.Len(t, metrics, 1)
	assert.Equal(t, "completed", metrics[0].Payload["status"])
	assert.Empty(t, errs)
}
