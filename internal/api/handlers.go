package api

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadfinder/internal/apikey"
	"github.com/JakeFAU/leadfinder/internal/enrich"
	"github.com/JakeFAU/leadfinder/internal/funding"
)

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req enrich.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", "")
		return
	}
	resp, err := s.searcher.Run(r.Context(), req)
	if err != nil {
		s.writeRunError(w, r, err)
		return
	}
	w.Header().Set("X-Run-ID", resp.RunID)
	writeJSON(w, http.StatusOK, resp)
}

type usageRequest struct {
	APIKey string `json:"apiKey"`
}

type perRunLimits struct {
	Free int `json:"free"`
	Paid int `json:"paid"`
}

type usageResponse struct {
	KeyID  string       `json:"keyId"`
	Free   int          `json:"free"`
	Paid   int          `json:"paid"`
	Total  int          `json:"total"`
	PerRun perRunLimits `json:"perRun"`
}

func (s *Server) usage(w http.ResponseWriter, r *http.Request) {
	var req usageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", "")
		return
	}
	keyHash, err := apikey.Hash(s.hasher, req.APIKey)
	if err != nil {
		if errors.Is(err, apikey.ErrEmptyKey) {
			writeError(w, http.StatusBadRequest, "apiKey is required", "")
			return
		}
		s.writeRunError(w, r, err)
		return
	}
	bal, err := s.balances.Balance(r.Context(), keyHash)
	if err != nil {
		s.writeRunError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usageResponse{
		KeyID:  keyHash,
		Free:   bal.Free,
		Paid:   bal.Paid,
		Total:  bal.Total(),
		PerRun: perRunLimits{Free: s.policy.FreePerRun, Paid: s.policy.PaidPerRun},
	})
}

type topUpRequest struct {
	APIKey  string `json:"apiKey"`
	KeyHash string `json:"keyHash"`
	Pool    string `json:"pool"`
	Amount  int    `json:"amount"`
	EventID string `json:"eventId"`
}

type topUpResponse struct {
	KeyID     string `json:"keyId"`
	Free      int    `json:"free"`
	Paid      int    `json:"paid"`
	Total     int    `json:"total"`
	Duplicate bool   `json:"duplicate"`
}

func (s *Server) topUp(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", "")
		return
	}
	keyHash := strings.TrimSpace(req.KeyHash)
	if keyHash == "" {
		h, err := apikey.Hash(s.hasher, req.APIKey)
		if err != nil {
			writeError(w, http.StatusBadRequest, "apiKey or keyHash is required", "")
			return
		}
		keyHash = h
	}
	res, err := s.funding.Apply(r.Context(), funding.Event{
		ID:      strings.TrimSpace(req.EventID),
		KeyHash: keyHash,
		Pool:    req.Pool,
		Amount:  req.Amount,
	})
	if err != nil {
		if errors.Is(err, funding.ErrInvalidEvent) {
			writeError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
		s.writeRunError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, topUpResponse{
		KeyID:     keyHash,
		Free:      res.Balance.Free,
		Paid:      res.Balance.Paid,
		Total:     res.Balance.Total(),
		Duplicate: res.Duplicate,
	})
}

func (s *Server) writeRunError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeJSON(w, status, body)
}
