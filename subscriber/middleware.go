package subscriber

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"

	"github.com/PowerDNS/perfagent/collector/query"
)

// RouteNamer returns the controller and action name of a request.
type RouteNamer func(r *http.Request) (controller, action string)

// DefaultRouteNamer uses the URL path as controller and the method as
// action. Hosts with path parameters should provide their own RouteNamer
// to keep the number of distinct names low.
func DefaultRouteNamer(r *http.Request) (controller, action string) {
	return r.URL.Path, r.Method
}

// PanicError wraps a value recovered from a panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Middleware tracks every request handled by next. Panics in next are
// reported and then re-raised unchanged.
func (s *Subscriber) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		namer := s.RouteNamer
		if namer == nil {
			namer = DefaultRouteNamer
		}
		controller, action := namer(r)
		ctx := s.StartRequest(r.Context(), controller, action)
		start := time.Now()

		defer func() {
			if v := recover(); v != nil {
				if v != http.ErrAbortHandler {
					s.Finish(ctx, Finish{
						Status:    http.StatusInternalServerError,
						Duration:  time.Since(start),
						Err:       &PanicError{Value: v},
						Backtrace: query.Capture(2),
					})
				}
				panic(v)
			}
		}()

		m := httpsnoop.CaptureMetricsFn(w, func(w http.ResponseWriter) {
			next.ServeHTTP(w, r.WithContext(ctx))
		})
		s.Finish(ctx, Finish{
			Status:   m.Code,
			Duration: m.Duration,
		})
	})
}

// TrackJob runs fn as a tracked background job and returns its error
// unchanged. Panics in fn are reported and then re-raised unchanged.
func (s *Subscriber) TrackJob(ctx context.Context, class, queue string, fn func(ctx context.Context) error) error {
	ctx = s.StartJob(ctx, class, queue)
	start := time.Now()

	defer func() {
		if v := recover(); v != nil {
			s.Finish(ctx, Finish{
				Duration:  time.Since(start),
				Err:       &PanicError{Value: v},
				Backtrace: query.Capture(2),
			})
			panic(v)
		}
	}()

	err := fn(ctx)
	f := Finish{Duration: time.Since(start), Err: err}
	if err != nil && errors.Is(err, context.Canceled) {
		f.Metadata = map[string]any{"canceled": true}
	}
	s.Finish(ctx, f)
	return err
}
