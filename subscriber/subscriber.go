// Package subscriber ties the agent together. It starts an execution when
// the host begins a request or job, and when it finishes it drains all
// collectors, summarizes their events and hands the payload to delivery.
package subscriber

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PowerDNS/perfagent/collector/httpclient"
	"github.com/PowerDNS/perfagent/collector/memory"
	"github.com/PowerDNS/perfagent/collector/query"
	"github.com/PowerDNS/perfagent/collector/view"
	"github.com/PowerDNS/perfagent/config"
	"github.com/PowerDNS/perfagent/config/logger"
	"github.com/PowerDNS/perfagent/delivery"
	"github.com/PowerDNS/perfagent/execctx"
	"github.com/PowerDNS/perfagent/sampler"
)

// Kind is the type of execution
type Kind string

// Execution kinds
const (
	KindRequest Kind = "request"
	KindJob     Kind = "job"
)

// Event names sent to the collector
const (
	EventRequest      = "request.completed"
	EventJob          = "job.completed"
	EventRequestError = "request.error"
	EventJobError     = "job.error"
)

// Execution attribute keys
const (
	attrKind       = "kind"
	attrName       = "name"
	attrAction     = "action"
	attrQueue      = "queue"
	attrSampled    = "sampled"
	attrError      = "error"
	attrErrorTrace = "error_backtrace"
)

// Deliverer sends messages. It is implemented by *delivery.Client.
type Deliverer interface {
	Deliver(m delivery.Message, sampled bool) bool
}

// Collectors are the event collectors the Subscriber starts and drains.
type Collectors struct {
	SQL    *query.Collector
	Views  *view.Collector
	Memory *memory.Collector
	HTTP   *httpclient.Collector
}

// NewCollectors creates all collectors for a config.
func NewCollectors(conf config.Config, l logrus.FieldLogger) Collectors {
	return Collectors{
		SQL:    query.New(conf.SQL, conf.Memory.Enabled && conf.Memory.TrackAllocations, l),
		Views:  view.New(conf.Views, l),
		Memory: memory.New(conf.Memory, l),
		HTTP:   httpclient.New(conf.Endpoint, conf.Calls, l),
	}
}

// Finish describes how an execution ended.
type Finish struct {
	Status    int           // HTTP status, ignored for jobs
	Duration  time.Duration // Measured from the start of the execution if 0
	Err       error         // Host error, reported as an additional error message
	Backtrace []string      // Backtrace of Err, if known
	Metadata  map[string]any
}

// Subscriber orchestrates the execution lifecycle.
type Subscriber struct {
	Hooks Hooks

	// RouteNamer names requests in Middleware.
	RouteNamer RouteNamer

	conf       config.Config
	client     Deliverer
	collectors Collectors
	sampler    sampler.Sampler
	exclude    PatternSet
	include    PatternSet
	slowest    int
	l          logrus.FieldLogger
}

// New creates a Subscriber. A zero Collectors value is filled with
// NewCollectors.
func New(conf config.Config, client Deliverer, collectors Collectors, l logrus.FieldLogger) *Subscriber {
	l = logger.OrNull(l)
	defaults := NewCollectors(conf, l)
	if collectors.SQL == nil {
		collectors.SQL = defaults.SQL
	}
	if collectors.Views == nil {
		collectors.Views = defaults.Views
	}
	if collectors.Memory == nil {
		collectors.Memory = defaults.Memory
	}
	if collectors.HTTP == nil {
		collectors.HTTP = defaults.HTTP
	}
	return &Subscriber{
		RouteNamer: DefaultRouteNamer,
		conf:       conf,
		client:     client,
		collectors: collectors,
		exclude:    CompilePatterns(conf.Exclude),
		include:    CompilePatterns(conf.Include),
		slowest:    conf.Views.Slowest,
		l:          l.WithField("component", "subscriber"),
	}
}

// Collectors returns the collectors, for wiring them into host code.
func (s *Subscriber) Collectors() Collectors {
	return s.collectors
}

type excludedKey struct{}

// Excluded returns true if ctx belongs to an excluded execution.
func Excluded(ctx context.Context) bool {
	v, _ := ctx.Value(excludedKey{}).(bool)
	return v
}

// StartRequest starts tracking a request. The returned context must be
// used for all work done by the request.
func (s *Subscriber) StartRequest(ctx context.Context, controller, action string) context.Context {
	excluded := s.exclude.MatchRequest(controller, action) ||
		(s.include.HasRequests() && !s.include.MatchRequest(controller, action))
	return s.start(ctx, KindRequest, controller, action, "", excluded)
}

// StartJob starts tracking a background job. The returned context must be
// used for all work done by the job.
func (s *Subscriber) StartJob(ctx context.Context, class, queue string) context.Context {
	excluded := s.exclude.MatchJob(class) ||
		(s.include.HasJobs() && !s.include.MatchJob(class))
	return s.start(ctx, KindJob, class, "", queue, excluded)
}

func (s *Subscriber) start(ctx context.Context, kind Kind, name, action, queue string, excluded bool) (out context.Context) {
	out = ctx
	if !s.conf.Enabled {
		return ctx
	}
	if excluded {
		s.l.WithField("name", name).WithField("action", action).Debug("Execution excluded")
		return context.WithValue(ctx, excludedKey{}, true)
	}
	s.guard("start", func() {
		if Excluded(ctx) {
			ctx = context.WithValue(ctx, excludedKey{}, false)
		}
		var e *execctx.Execution
		ctx, e = execctx.Start(ctx, "")
		e.Set(attrKind, kind)
		e.Set(attrName, name)
		e.Set(attrAction, action)
		e.Set(attrQueue, queue)
		e.Set(attrSampled, s.sampler.ShouldSample(s.conf.SampleRate))
		s.collectors.SQL.Start(ctx)
		s.collectors.Views.Start(ctx)
		s.collectors.HTTP.Start(ctx)
		s.collectors.Memory.Begin(ctx)
		out = ctx
	})
	return out
}

// ReportError attaches an error to the execution in ctx. It is reported
// when the execution finishes, unless Finish carries an error itself.
func (s *Subscriber) ReportError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	e := execctx.From(ctx)
	e.Set(attrError, err)
	e.Set(attrErrorTrace, errorBacktrace(err, 2))
}

// Finish ends the execution in ctx and delivers its telemetry. It is a
// no-op for untracked or excluded executions.
func (s *Subscriber) Finish(ctx context.Context, f Finish) {
	if Excluded(ctx) {
		return
	}
	e := execctx.From(ctx)
	if !e.Active() {
		return
	}
	s.guard("finish", func() {
		s.finish(ctx, e, f)
	})
}

func (s *Subscriber) finish(ctx context.Context, e *execctx.Execution, f Finish) {
	defer e.Stop()
	s.collectors.Memory.End(ctx)

	kind, _ := getAttr[Kind](e, attrKind)
	name, _ := getAttr[string](e, attrName)
	sampled := e.GetBool(attrSampled)
	if f.Duration <= 0 {
		f.Duration = time.Since(e.StartedAt())
	}
	if f.Err == nil {
		if err, ok := getAttr[error](e, attrError); ok {
			f.Err = err
			f.Backtrace, _ = getAttr[[]string](e, attrErrorTrace)
		}
	}

	var delivered bool
	if sampled {
		payload := s.buildPayload(ctx, e, f)
		event := EventRequest
		if kind == KindJob {
			event = EventJob
		}
		delivered = s.deliver(ctx, MessageInfo{Event: event, Payload: payload}, true)
	}
	if f.Err != nil {
		event := EventRequestError
		if kind == KindJob {
			event = EventJobError
		}
		// Errors bypass sampling
		s.deliver(ctx, MessageInfo{Event: event, Error: true, Payload: s.buildErrorPayload(e, f)}, true)
	}

	if s.Hooks.AfterFinish != nil {
		s.guard("after_finish", func() {
			s.Hooks.AfterFinish(ctx, FinishInfo{
				ExecutionID: e.ID(),
				Kind:        kind,
				Name:        name,
				Sampled:     sampled,
				Delivered:   delivered,
			})
		})
	}
}

func (s *Subscriber) deliver(ctx context.Context, info MessageInfo, sampled bool) bool {
	if !s.beforeDeliver(ctx, info) {
		s.l.WithField("event", info.Event).Debug("Message dropped by hook")
		return false
	}
	if s.client == nil {
		return false
	}
	return s.client.Deliver(delivery.Message{
		Event:   info.Event,
		Payload: info.Payload,
		Error:   info.Error,
	}, sampled)
}

// beforeDeliver runs Hooks.BeforeDeliver. A panicking hook drops the
// message.
func (s *Subscriber) beforeDeliver(ctx context.Context, info MessageInfo) (ok bool) {
	if s.Hooks.BeforeDeliver == nil {
		return true
	}
	ok = false
	s.guard("before_deliver", func() {
		ok = s.Hooks.BeforeDeliver(ctx, info)
	})
	return ok
}

// guard recovers agent panics. Host panics never pass through here.
func (s *Subscriber) guard(step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.l.WithField("step", step).
				WithField("panic", fmt.Sprint(r)).
				Debug("Agent error ignored")
		}
	}()
	fn()
}

func getAttr[T any](e *execctx.Execution, key string) (T, bool) {
	v, ok := e.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
