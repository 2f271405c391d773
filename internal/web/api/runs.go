package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/patrickspencer/hydranotify/internal/store"
)

const defaultRunLimit = 50

func (a *API) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := a.Store.ListRuns(r.Context(), limit)
	if err != nil {
		a.log().Errorw("api: failed to list runs", "error", err)
		a.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	a.writeJSON(w, http.StatusOK, runs)
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := a.Store.GetRun(r.Context(), id)
	if err != nil {
		a.log().Errorw("api: failed to get run", "run_id", id, "error", err)
		a.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		a.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	a.writeJSON(w, http.StatusOK, run)
}
