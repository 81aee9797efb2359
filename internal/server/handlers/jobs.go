package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/3leaps/psub/pkg/history"
	"github.com/3leaps/psub/pkg/job"
	"github.com/3leaps/psub/pkg/status"
)

// JobSummary is one row of GET /jobs.
type JobSummary struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Tasks      int            `json:"tasks"`
	SubmitTime *time.Time     `json:"submit_time"`
	RerunOf    string         `json:"rerun_of,omitempty"`
	Status     status.Summary `json:"status"`
}

// JobDetail is the body of GET /jobs/{job}.
type JobDetail struct {
	Job    *job.Job       `json:"job"`
	Status status.Summary `json:"status"`
}

// Jobs serves read-only views of the history store.
type Jobs struct {
	History *history.Store
	Monitor *status.Monitor
}

// List serves GET /jobs, newest first.
func (h *Jobs) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.History.List()
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	out := make([]JobSummary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, JobSummary{
			ID:         j.ID,
			Name:       j.Name,
			Tasks:      j.TaskCount(),
			SubmitTime: j.SubmitTime,
			RerunOf:    j.RerunOf,
			Status:     h.Monitor.Report(r.Context(), j).Summary,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Get serves GET /jobs/{job}.
func (h *Jobs) Get(w http.ResponseWriter, r *http.Request) {
	j, err := h.History.Resolve(chi.URLParam(r, "job"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, JobDetail{
		Job:    j,
		Status: h.Monitor.Report(r.Context(), j).Summary,
	})
}

// Tasks serves GET /jobs/{job}/tasks.
func (h *Jobs) Tasks(w http.ResponseWriter, r *http.Request) {
	j, err := h.History.Resolve(chi.URLParam(r, "job"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Monitor.Report(r.Context(), j))
}
