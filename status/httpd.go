package status

import (
	"fmt"
	htmltemplate "html/template"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/PowerDNS/perfagent/config"
)

// StartHTTPServer serves Prometheus metrics, the status page and the
// healthz checks on the configured address.
func StartHTTPServer(c config.Config) {
	if c.HTTP.Address == "" {
		logrus.Info("HTTP stats server disabled")
		return
	}
	logrus.WithField("address", c.HTTP.Address).Info("HTTP stats server enabled")
	http.Handle("/metrics", promhttp.Handler())
	http.Handle("/", &Page{
		c: c,
	})
	go func() {
		err := http.ListenAndServe(c.HTTP.Address, nil)
		logrus.Fatalf("HTTP server error: %v", err)
	}()
}

type Page struct {
	c config.Config
}

// NewPage returns the status page for a config.
func NewPage(c config.Config) *Page {
	return &Page{c: c}
}

const statusTemplateString = `<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<title>perfagent Status</title>
	<style>
		body          { font-family: sans-serif; }
		table, td, th { border: 1px solid #ccc; border-collapse: collapse; }
		td, th        { padding: 5px; text-align: left; }
		td.num        { text-align: right; }
		td.error      { background-color: #ffb8b8; }
		td.warning    { background-color: #ffe6a6; }
		td.no-error   { background-color: #a6f3a6; }
		a             { text-decoration: none; color: #3c6ac5; }
	</style>
</head>
<body>
	<h1>perfagent Status</h1>
	<p>
		<a href="/metrics">Prometheus metrics</a>
		| <a href="/healthz">Health</a>
	</p>

	<h2>Delivery</h2>
	<table>
		<tr>
			<th>Client</th>
			<th>Revision</th>
			<th>Breaker</th>
			<th>Failures</th>
			<th>Last failure</th>
			<th>Last success</th>
			<th>Sent</th>
			<th>Failed</th>
			<th>Skipped</th>
			<th>Events dropped</th>
		</tr>
		{{- range .Clients }}
		<tr>
			<td>{{ .Name }}</td>
			<td>{{ .Revision }}</td>
			<td class="{{ stateClass .State }}">{{ .State }}</td>
			<td class="num">{{ .Failures }}</td>
			<td>{{ timeOrNever .LastFailure }}</td>
			<td>{{ timeOrNever .LastSuccess }}</td>
			<td class="num">{{ .Stats.Sent }}</td>
			<td class="num">{{ .Stats.Failed }}</td>
			<td class="num">{{ .Stats.Skipped }}</td>
			<td class="num">{{ .Dropped }}</td>
		</tr>
		{{- else }}
		<tr><td colspan="10">No delivery clients registered</td></tr>
		{{- end }}
	</table>

	<h2>Process</h2>
	<table>
		<tr><th>RSS</th><td class="num">{{ .Process.RSS.HumanReadable }}</td></tr>
		<tr><th>Heap</th><td class="num">{{ .Process.HeapAlloc.HumanReadable }}</td></tr>
		<tr><th>GC cycles</th><td class="num">{{ .Process.GCCount }}</td></tr>
	</table>

	<h2>Config</h2>
	<pre>{{ .Config.String }}</pre>

</body>
</html>`

var statusTemplate *htmltemplate.Template

func init() {
	var err error
	statusTemplate, err = htmltemplate.New("status").Funcs(templateFuncs).Parse(statusTemplateString)
	if err != nil {
		log.Fatalf("BUG: Error in status HTML template: %v", err)
	}
}

func (p *Page) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := struct {
		Config  config.Config
		Clients []ClientInfo
		Process ProcessInfo
	}{
		Config:  p.c,
		Clients: gi.ClientInfo(),
		Process: gi.ProcessInfo(),
	}

	err := statusTemplate.Execute(w, data)
	if err != nil {
		w.WriteHeader(500)
		_, _ = w.Write([]byte(fmt.Sprintf("Template execution error: %v", err)))
	}
}
