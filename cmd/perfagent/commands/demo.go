package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/wojas/go-healthz"
	"golang.org/x/sync/errgroup"

	"github.com/PowerDNS/perfagent/collector/query"
	"github.com/PowerDNS/perfagent/collector/view"
	"github.com/PowerDNS/perfagent/delivery"
	"github.com/PowerDNS/perfagent/status"
	"github.com/PowerDNS/perfagent/status/healthtracker"
	"github.com/PowerDNS/perfagent/status/starttracker"
	"github.com/PowerDNS/perfagent/subscriber"
	"github.com/PowerDNS/perfagent/utils"
)

var (
	demoAddress     string
	demoDSN         string
	demoJobInterval time.Duration
)

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().StringVar(&demoAddress, "address", ":8080", "Listen address of the demo app")
	demoCmd.Flags().StringVar(&demoDSN, "dsn", "", "PostgreSQL connection string. Queries are simulated if empty")
	demoCmd.Flags().DurationVar(&demoJobInterval, "job-interval", 10*time.Second, "Average interval between demo jobs")
}

// demoApp is a small instrumented application.
type demoApp struct {
	sub *subscriber.Subscriber
	db  *pgxpool.Pool // nil when queries are simulated
}

func (a *demoApp) routeName(r *http.Request) (controller, action string) {
	switch {
	case strings.HasPrefix(r.URL.Path, "/users/"):
		return "UsersController", "show"
	case r.URL.Path == "/fail":
		return "FailuresController", "create"
	default:
		return "PagesController", "show"
	}
}

func (a *demoApp) query(ctx context.Context, sql string, args ...any) error {
	if a.db == nil {
		a.sub.Collectors().SQL.OnQuery(ctx, query.Query{
			SQL:      sql,
			Duration: 2 * time.Millisecond,
		})
		return nil
	}
	rows, err := a.db.Query(ctx, sql, args...)
	if err != nil {
		return err
	}
	rows.Close()
	return rows.Err()
}

func (a *demoApp) showUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := strings.TrimPrefix(r.URL.Path, "/users/")
	if err := a.query(ctx, "SELECT $1::text AS id", id); err != nil {
		a.sub.ReportError(ctx, err)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	a.sub.Collectors().Memory.RecordAllocation(ctx, "User", 512)
	_ = a.sub.Collectors().Views.Instrument(ctx, "users/show", view.KindTemplate, func() error {
		_, err := fmt.Fprintf(w, "user %s\n", id)
		return err
	})
}

func (a *demoApp) fail(w http.ResponseWriter, r *http.Request) {
	a.sub.ReportError(r.Context(), errors.New("demo failure"))
	http.Error(w, "demo failure", http.StatusInternalServerError)
}

func (a *demoApp) index(w http.ResponseWriter, r *http.Request) {
	_ = a.sub.Collectors().Views.Instrument(r.Context(), "pages/show", view.KindTemplate, func() error {
		_, err := fmt.Fprintln(w, "perfagent demo: try /users/1 and /fail")
		return err
	})
}

func (a *demoApp) cleanupJob(ctx context.Context) error {
	a.sub.Collectors().Memory.Mark(ctx, "before_cleanup")
	return a.query(ctx, "SELECT now()")
}

func (a *demoApp) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/", a.showUser)
	mux.HandleFunc("/fail", a.fail)
	mux.HandleFunc("/", a.index)
	return a.sub.Middleware(mux)
}

func runDemo() error {
	ctx, cancel := context.WithCancel(rootCtx)
	defer cancel()

	l := logrus.StandardLogger()
	st := starttracker.New(conf.Startup, "agent", l)
	st.RegisterTracker()
	ht := healthtracker.New(conf.Health, "delivery", "deliver telemetry", l)
	ht.Register()
	defer ht.Deregister()

	client, err := delivery.New(conf, delivery.Options{Logger: l, Health: ht})
	if err != nil {
		return err
	}
	status.AddClient("default", client)
	defer status.RemoveClient("default")
	st.SetConfigured()

	app := &demoApp{sub: subscriber.New(conf, client, subscriber.Collectors{}, l)}
	app.sub.RouteNamer = app.routeName

	if demoDSN != "" {
		pc, err := pgxpool.ParseConfig(demoDSN)
		if err != nil {
			return err
		}
		pc.ConnConfig.Tracer = app.sub.Collectors().SQL.Tracer()
		app.db, err = pgxpool.NewWithConfig(ctx, pc)
		if err != nil {
			return err
		}
		defer app.db.Close()
		logrus.Info("Demo queries use PostgreSQL")
	}

	healthz.AddBuildInfo()
	if hostname, err := os.Hostname(); err == nil {
		healthz.SetMeta("hostname", hostname)
	}
	healthz.SetMeta("version", version)
	healthz.SetMeta("revision", client.Revision())
	status.StartHTTPServer(conf)

	srv := &http.Server{
		Addr:              demoAddress,
		Handler:           app.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		err := st.Watch(ctx, client.Events().Delivered)
		if utils.IsCanceled(ctx) {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		logrus.WithField("address", demoAddress).Info("Demo app listening")
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	eg.Go(func() error {
		for {
			if err := utils.SleepContextPerturb(ctx, demoJobInterval); err != nil {
				return nil
			}
			err := app.sub.TrackJob(ctx, "CleanupJob", "default", app.cleanupJob)
			if err != nil {
				logrus.WithError(err).Warn("Demo job failed")
			}
		}
	})

	err = eg.Wait()
	client.Wait()
	return err
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run an instrumented demo app together with the status server",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDemo(); err != nil {
			logrus.WithError(err).Fatal("Error")
		}
	},
}
