package status

import (
	htmltemplate "html/template"
	"time"

	"github.com/PowerDNS/perfagent/breaker"
)

var templateFuncs = htmltemplate.FuncMap{
	"stateClass": func(s breaker.State) string {
		switch s {
		case breaker.Open:
			return "error"
		case breaker.HalfOpen:
			return "warning"
		default:
			return "no-error"
		}
	},
	"timeOrNever": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format(time.RFC3339)
	},
}
