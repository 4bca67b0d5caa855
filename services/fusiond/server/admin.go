package server

import (
	"context"
	"net/http"

	"fusionswap/crypto"
	"fusionswap/native/fusion"
)

// PauseRequest toggles the emergency stop.
type PauseRequest struct {
	Paused bool `json:"paused"`
}

// OwnerRequest hands the engine to a new administrator.
type OwnerRequest struct {
	Owner crypto.AccountID `json:"owner"`
}

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	var req PauseRequest
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	if err := s.engine.SetPaused(r.Context(), s.call(r, nil), req.Paused); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PauseRequest{Paused: s.engine.IsPaused()})
}

type membershipFunc func(ctx context.Context, call fusion.Call, account crypto.AccountID) error

func (s *Server) membership(apply membershipFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := pathAccount(r)
		if err != nil {
			s.badRequest(w, r, err)
			return
		}
		if err := apply(r.Context(), s.call(r, nil), account); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleApproveResolver(w http.ResponseWriter, r *http.Request) {
	s.membership(s.engine.ApproveResolver)(w, r)
}

func (s *Server) handleRevokeResolver(w http.ResponseWriter, r *http.Request) {
	s.membership(s.engine.RevokeResolver)(w, r)
}

func (s *Server) handleAddRelayer(w http.ResponseWriter, r *http.Request) {
	s.membership(s.engine.AddTrustedRelayer)(w, r)
}

func (s *Server) handleRemoveRelayer(w http.ResponseWriter, r *http.Request) {
	s.membership(s.engine.RemoveTrustedRelayer)(w, r)
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req OwnerRequest
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	if err := s.engine.TransferOwnership(r.Context(), s.call(r, nil), req.Owner); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}
