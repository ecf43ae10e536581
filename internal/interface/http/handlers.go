package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/rulesmaster/progress-sync/internal/infrastructure/background"
	"github.com/rulesmaster/progress-sync/internal/infrastructure/scheduler"
	"github.com/rulesmaster/progress-sync/pkg/circuitbreaker"
	"github.com/rulesmaster/progress-sync/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReady reports not ready while the remote circuit is open. Reads
// still work from cache then, but writes will be queued or rejected.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Remote != nil && s.deps.Remote.BreakerState() == circuitbreaker.StateOpen {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": "remote circuit is open",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Uptime        string            `json:"uptime"`
	RemoteCircuit string            `json:"remote_circuit,omitempty"`
	PendingQuiz   *int              `json:"pending_quiz_results,omitempty"`
	Background    *background.Stats `json:"background,omitempty"`
	Jobs          []JobStatus       `json:"jobs,omitempty"`
	Errors        map[string]string `json:"errors,omitempty"`
}

// JobStatus describes one scheduled job.
type JobStatus struct {
	Name      string    `json:"name"`
	Every     string    `json:"every"`
	RunCount  int64     `json:"run_count"`
	FailCount int64     `json:"fail_count"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Uptime: s.Uptime().Round(time.Second).String()}

	if s.deps.Remote != nil {
		resp.RemoteCircuit = s.deps.Remote.BreakerState().String()
	}
	if s.deps.Runner != nil {
		stats := s.deps.Runner.Stats()
		resp.Background = &stats
	}
	if s.deps.Pending != nil {
		n, err := s.deps.Pending.PendingCount(r.Context())
		if err != nil {
			resp.Errors = map[string]string{"pending_quiz_results": err.Error()}
		} else {
			resp.PendingQuiz = &n
		}
	}
	if s.deps.Jobs != nil {
		for _, j := range s.deps.Jobs.ListJobs() {
			js := JobStatus{
				Name:      j.Name,
				Every:     j.Every.String(),
				RunCount:  j.RunCount,
				FailCount: j.FailCount,
				LastRun:   j.LastRun,
			}
			if j.LastError != nil {
				js.LastError = j.LastError.Error()
			}
			resp.Jobs = append(resp.Jobs, js)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeJSONError(w, http.StatusNotFound, "no_scheduler", "no scheduler is running")
		return
	}
	name := r.PathValue("name")

	res, err := s.deps.Jobs.RunNow(r.Context(), name)
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		writeJSONError(w, http.StatusNotFound, "job_not_found", err.Error())
		return
	case err != nil:
		s.logger.Warn("manual job run failed", logger.String("job", name), logger.Err(err))
		writeJSONError(w, http.StatusBadGateway, "job_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job":      res.JobName,
		"duration": res.Duration.String(),
	})
}
