package httpapi

import (
	"net/http"

	"github.com/praxis-systems/aegis/pkg/policy"
)

type evaluateRequest struct {
	Context     map[string]interface{} `json:"context"`
	PolicyNames []string               `json:"policy_names,omitempty"`
}

func (s *Server) handlePolicyEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Context == nil {
		writeBadRequest(w, "context is required")
		return
	}
	decision := s.policy.Evaluate(r.Context(), policy.Context(req.Context), req.PolicyNames)
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handlePolicyList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policies": s.policy.Metadata(),
	})
}

func (s *Server) handlePolicyReload(w http.ResponseWriter, r *http.Request) {
	if s.policyFile == "" {
		writeBadRequest(w, "no policy file configured")
		return
	}
	if err := s.policy.Registry().Reload(s.policyFile); err != nil {
		writeError(w, http.StatusBadRequest, "policy reload failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded": true,
		"policies": s.policy.Registry().Names(),
	})
}
