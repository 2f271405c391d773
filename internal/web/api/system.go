package api

import (
	"net/http"
	"time"

	"github.com/patrickspencer/hydranotify/internal/hydra"
	"github.com/patrickspencer/hydranotify/internal/jobs"
)

type healthResponse struct {
	Status  string     `json:"status"`
	Running bool       `json:"running"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.Ping(r.Context()); err != nil {
		a.log().Errorw("api: database unreachable", "error", err)
		a.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy"})
		return
	}

	resp := healthResponse{Status: "ok"}
	if a.Running != nil {
		resp.Running = a.Running()
	}
	if a.NextRun != nil {
		if next := a.NextRun(); !next.IsZero() {
			resp.NextRun = &next
		}
	}
	a.writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	Key        string    `json:"key"`
	Project    string    `json:"project,omitempty"`
	Jobset     string    `json:"jobset,omitempty"`
	Job        string    `json:"job,omitempty"`
	Status     uint8     `json:"status"`
	StatusText string    `json:"status_text"`
	Failing    bool      `json:"failing"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (a *API) handleListStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := a.Store.ListStatuses(r.Context())
	if err != nil {
		a.log().Errorw("api: failed to list statuses", "error", err)
		a.writeError(w, http.StatusInternalServerError, "failed to list statuses")
		return
	}

	failingOnly := r.URL.Query().Get("failing") == "true"
	result := make([]statusResponse, 0, len(statuses))
	for _, s := range statuses {
		if failingOnly && s.Status == 0 {
			continue
		}
		resp := statusResponse{
			Key:        s.Key,
			Status:     s.Status,
			StatusText: hydra.StatusText(s.Status),
			Failing:    s.Status != 0,
			UpdatedAt:  s.UpdatedAt,
		}
		if project, jobset, job, err := jobs.ParseKey(s.Key); err == nil {
			resp.Project, resp.Jobset, resp.Job = project, jobset, job
		}
		result = append(result, resp)
	}
	a.writeJSON(w, http.StatusOK, result)
}

func (a *API) handleCheck(w http.ResponseWriter, _ *http.Request) {
	if a.TriggerRun == nil {
		a.writeError(w, http.StatusServiceUnavailable, "scheduler unavailable")
		return
	}
	if !a.TriggerRun() {
		a.writeError(w, http.StatusConflict, "a check is already running")
		return
	}
	a.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}
