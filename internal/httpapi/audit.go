package httpapi

import (
	"net/http"

	"breachmap/internal/audit"
)

func auditFilterFromQuery(r *http.Request) audit.Filter {
	q := r.URL.Query()
	return audit.Filter{
		Verb:   q.Get("verb"),
		Actor:  q.Get("actor"),
		Target: q.Get("target"),
	}
}
