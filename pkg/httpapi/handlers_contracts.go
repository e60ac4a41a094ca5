package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/praxis-systems/aegis/pkg/contracts"
)

type createContractRequest struct {
	contracts.CreateRequest
	CreatedBy string `json:"created_by"`
}

func (s *Server) handleContractCreate(w http.ResponseWriter, r *http.Request) {
	var req createContractRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = ActorFrom(r.Context())
	}
	c, err := s.contracts.Create(r.Context(), req.CreateRequest, createdBy)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	view, err := contracts.NewView(c)
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleContractList(w http.ResponseWriter, r *http.Request) {
	var statePtr *contracts.State
	if raw := r.URL.Query().Get("state"); raw != "" {
		state := contracts.State(raw)
		if !state.Valid() {
			writeBadRequest(w, "unknown contract state")
			return
		}
		statePtr = &state
	}
	list, err := s.contracts.List(r.Context(), statePtr, r.URL.Query().Get("created_by"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]*contracts.View, 0, len(list))
	for _, c := range list {
		view, err := contracts.NewView(c)
		if err != nil {
			writeInternal(w, err)
			return
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"contracts": views,
		"count":     len(views),
	})
}

func (s *Server) handleContractStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.contracts.Statistics(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func contractID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeBadRequest(w, "malformed contract id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) writeContract(w http.ResponseWriter, c *contracts.Contract) {
	view, err := contracts.NewView(c)
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleContractGet(w http.ResponseWriter, r *http.Request) {
	id, ok := contractID(w, r)
	if !ok {
		return
	}
	c, err := s.contracts.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.writeContract(w, c)
}

type proposeContractRequest struct {
	contracts.ProposeRequest
	ProposedBy string `json:"proposed_by"`
}

func (s *Server) handleContractPropose(w http.ResponseWriter, r *http.Request) {
	id, ok := contractID(w, r)
	if !ok {
		return
	}
	var req proposeContractRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	proposedBy := req.ProposedBy
	if proposedBy == "" {
		proposedBy = ActorFrom(r.Context())
	}
	c, err := s.contracts.Propose(r.Context(), id, req.ProposeRequest, proposedBy)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.writeContract(w, c)
}

func (s *Server) handleContractSign(w http.ResponseWriter, r *http.Request) {
	id, ok := contractID(w, r)
	if !ok {
		return
	}
	var req contracts.SignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SignerID == "" || req.Signature == "" || req.PublicKey == "" {
		writeBadRequest(w, "signer_id, signature and public_key are required")
		return
	}
	c, err := s.contracts.Sign(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.writeContract(w, c)
}

func (s *Server) handleContractRevoke(w http.ResponseWriter, r *http.Request) {
	id, ok := contractID(w, r)
	if !ok {
		return
	}
	var req contracts.RevokeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RevokedBy == "" {
		req.RevokedBy = ActorFrom(r.Context())
	}
	c, err := s.contracts.Revoke(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.writeContract(w, c)
}
