package httpapi

import (
	"errors"
	"net/http"

	"github.com/praxis-systems/aegis/pkg/reflexive"
)

type simulateRequest struct {
	ActionContext *reflexive.ActionContext `json:"action_context"`
	ScenarioName  string                   `json:"scenario_name,omitempty"`
	Parameters    map[string]interface{}   `json:"parameters,omitempty"`
}

func (s *Server) handleCoreSimulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ac := req.ActionContext
	if ac == nil && req.ScenarioName != "" {
		scenario, err := reflexive.NewScenario(req.ScenarioName, req.Parameters)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		ac = scenario.ActionContext
	}
	if ac == nil {
		writeBadRequest(w, "action_context or scenario_name is required")
		return
	}

	decision, err := s.reflexive.SimulateRisk(r.Context(), ac)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// The simulated decision's action runs against a throwaway executor
	// so the engine's own execution history stays clean.
	action, err := reflexive.NewAction(decision, s.logger)
	if err != nil {
		writeInternal(w, err)
		return
	}
	result, err := reflexive.NewExecutor().Execute(r.Context(), action)
	if err != nil {
		writeInternal(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"simulation_id": decision.ID,
		"decision":      decision,
		"action": map[string]interface{}{
			"action_id":   action.ID(),
			"action_type": action.Type(),
			"status":      action.Status(),
			"result":      result,
		},
		"action_context": ac,
	})
}

func (s *Server) handleCoreStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reflexive.Status())
}

type submitActionRequest struct {
	ActionContext *reflexive.ActionContext `json:"action_context"`
}

func (s *Server) handleCoreSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitActionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ActionContext == nil {
		writeBadRequest(w, "action_context is required")
		return
	}
	if err := s.reflexive.Submit(req.ActionContext); err != nil {
		if errors.Is(err, reflexive.ErrQueueFull) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "queue full", err.Error())
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":    "accepted",
		"action_id": req.ActionContext.ActionID,
	})
}

func (s *Server) handleCoreMonitorStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reflexive.MonitorStats())
}

type riskScenarioRequest struct {
	ScenarioName string                 `json:"scenario_name"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
}

func (s *Server) handleCoreRiskScenario(w http.ResponseWriter, r *http.Request) {
	var req riskScenarioRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ScenarioName == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"scenarios": reflexive.ScenarioNames(),
		})
		return
	}
	scenario, err := reflexive.NewScenario(req.ScenarioName, req.Parameters)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scenario": scenario,
	})
}
