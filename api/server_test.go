package api

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dispatchsync/api/dispatch"
	"github.com/kilianp07/dispatchsync/api/vehicles"
	"github.com/kilianp07/dispatchsync/core/backend"
	"github.com/kilianp07/dispatchsync/core/model"
	"github.com/kilianp07/dispatchsync/core/mutation"
	"github.com/kilianp07/dispatchsync/core/mutation/audit"
	"github.com/kilianp07/dispatchsync/core/projection"
	"github.com/kilianp07/dispatchsync/core/snapshot"
	"github.com/kilianp07/dispatchsync/infra/memory"
)

type staticBoard struct{ b projection.Board }

func (s staticBoard) Current() projection.Board { return s.b }

func newTestRouter(t *testing.T, token string) http.Handler {
	t.Helper()
	mem := memory.New()
	mem.AddVehicle(model.Vehicle{ID: "V1", CurrentLatitude: 48.8, CurrentLongitude: 2.3})
	store := snapshot.New(backend.NewResolver(mem), snapshot.Options{})
	t.Cleanup(store.Close)
	st, err := audit.NewJSONLStore(filepath.Join(t.TempDir(), "audit.log"))
	require.NoError(t, err)
	coord := mutation.New(store, mem, mutation.Options{Audit: st})
	return NewRouter(Deps{
		Dispatch:   dispatch.NewHandler(staticBoard{}, store, coord, nil),
		Vehicles:   vehicles.NewHandler(store, nil, vehicles.Options{}, nil),
		Audit:      st,
		AuditToken: token,
	})
}

func TestRouterMountsEndpoints(t *testing.T) {
	r := newTestRouter(t, "secret")
	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/healthz", http.StatusNoContent},
		{http.MethodGet, "/api/board", http.StatusOK},
		{http.MethodGet, "/api/vehicles/V1/position", http.StatusOK},
		{http.MethodGet, "/api/mutations/log", http.StatusUnauthorized},
		{http.MethodGet, "/api/unknown", http.StatusNotFound},
		{http.MethodDelete, "/api/board", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
			assert.Equal(t, tc.want, rr.Code)
		})
	}
}

func TestRouterWithoutAuditToken(t *testing.T) {
	r := newTestRouter(t, "")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/mutations/log", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
