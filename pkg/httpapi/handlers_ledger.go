package httpapi

import (
	"net/http"
	"strconv"

	"github.com/praxis-systems/aegis/pkg/ledger"
)

func pathUint(w http.ResponseWriter, r *http.Request, key string) (uint64, bool) {
	n, err := strconv.ParseUint(r.PathValue(key), 10, 64)
	if err != nil || n == 0 {
		writeBadRequest(w, "malformed "+key)
		return 0, false
	}
	return n, true
}

func (s *Server) handleLedgerAppend(w http.ResponseWriter, r *http.Request) {
	var event ledger.Event
	if !decodeJSON(w, r, &event) {
		return
	}
	entry, err := s.ledger.AppendEvent(r.Context(), &event)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleLedgerEntry(w http.ResponseWriter, r *http.Request) {
	seq, ok := pathUint(w, r, "seq")
	if !ok {
		return
	}
	entry, err := s.ledger.GetEntry(r.Context(), seq)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleLedgerBlock(w http.ResponseWriter, r *http.Request) {
	n, ok := pathUint(w, r, "n")
	if !ok {
		return
	}
	block, err := s.ledger.GetBlock(r.Context(), n)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	entries, err := s.ledger.GetBlockEntries(r.Context(), n)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"block":   block,
		"entries": entries,
	})
}

func (s *Server) handleLedgerVerifyBlock(w http.ResponseWriter, r *http.Request) {
	n, ok := pathUint(w, r, "n")
	if !ok {
		return
	}
	valid, detail, err := s.ledger.VerifyBlockIntegrity(r.Context(), n)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"block_number": n,
		"valid":        valid,
		"detail":       detail,
	})
}

func (s *Server) handleLedgerVerifyChain(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var start, end uint64
	var err error
	if raw := q.Get("start_sequence"); raw != "" {
		if start, err = strconv.ParseUint(raw, 10, 64); err != nil {
			writeBadRequest(w, "malformed start_sequence")
			return
		}
	}
	if raw := q.Get("end_sequence"); raw != "" {
		if end, err = strconv.ParseUint(raw, 10, 64); err != nil {
			writeBadRequest(w, "malformed end_sequence")
			return
		}
	}
	valid, detail, err := s.ledger.VerifyChainIntegrity(r.Context(), start, end)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":  valid,
		"detail": detail,
	})
}

func (s *Server) handleLedgerProof(w http.ResponseWriter, r *http.Request) {
	seq, ok := pathUint(w, r, "seq")
	if !ok {
		return
	}
	proof, block, err := s.ledger.EntryProof(r.Context(), seq)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sequence_number": seq,
		"block_number":    block.BlockNumber,
		"merkle_root":     block.MerkleRoot,
		"proof":           proof,
	})
}

func (s *Server) handleLedgerStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ledger.Statistics(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
