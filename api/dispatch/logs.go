package dispatch

import (
	"net/http"
	"time"

	"github.com/kilianp07/dispatchsync/api/respond"
	"github.com/kilianp07/dispatchsync/core/mutation/audit"
	"github.com/kilianp07/dispatchsync/pkg/export"
)

// NewLogHandler returns an HTTP handler exposing the mutation audit log via
// GET /api/mutations/log. Requests must include an Authorization header with
// "Bearer <token>" when token is non-empty. format=csv returns a CSV download
// instead of the JSON envelope.
func NewLogHandler(store audit.Store, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" {
			auth := r.Header.Get("Authorization")
			if auth != "Bearer "+token {
				respond.Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		q := audit.Query{
			Operation: r.URL.Query().Get("operation"),
			TargetID:  r.URL.Query().Get("target_id"),
			Outcome:   r.URL.Query().Get("outcome"),
		}
		if s := r.URL.Query().Get("start"); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				respond.Error(w, http.StatusBadRequest, "start must be RFC3339")
				return
			}
			q.Start = t
		}
		if s := r.URL.Query().Get("end"); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				respond.Error(w, http.StatusBadRequest, "end must be RFC3339")
				return
			}
			q.End = t
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			respond.Error(w, http.StatusInternalServerError, err.Error())
			return
		}
		if r.URL.Query().Get("format") == "csv" {
			w.Header().Set("Content-Type", "text/csv")
			w.Header().Set("Content-Disposition", `attachment; filename="mutations.csv"`)
			if err := export.WriteCSV(w, records); err != nil {
				respond.Error(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
		if records == nil {
			records = []audit.Record{}
		}
		respond.OK(w, records)
	})
}
