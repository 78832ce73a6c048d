package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tuning-platform/internal/types"
	"github.com/tuning-platform/internal/vault"
)

// handleCloseRequest handles POST /api/requests/:id/close.
func (s *Server) handleCloseRequest(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["id"]

	if err := s.fileService.CloseRequest(r.Context(), requestID); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"requestId": requestID})
}

// handleRequestMessage handles POST /api/requests/:id/messages - chat
// activity on a request. Closed and delivered requests reopen.
func (s *Server) handleRequestMessage(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["id"]

	var req struct {
		Message string `json:"message"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, errCodeInvalidInput, "message is required", nil)
		return
	}

	if err := s.fileService.ReopenOnMessage(r.Context(), requestID, req.Message); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"requestId": requestID})
}

// handlePutCredentials handles PUT /api/credentials - store a tenant's vendor
// secrets. The response never echoes the secrets back.
func (s *Server) handlePutCredentials(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID     string `json:"tenantId"`
		Vendor       string `json:"vendor"`
		ClientID     string `json:"clientId"`
		ClientSecret string `json:"clientSecret"`
		APIKey       string `json:"apiKey"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.TenantID == "" {
		respondError(w, http.StatusBadRequest, errCodeInvalidInput, "tenantId is required", nil)
		return
	}
	vendor, err := types.ParseVendor(req.Vendor)
	if err != nil {
		respondError(w, http.StatusBadRequest, errCodeInvalidInput, err.Error(), nil)
		return
	}

	fields := vault.Fields{
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		APIKey:       req.APIKey,
	}
	if err := s.credentials.Put(r.Context(), req.TenantID, vendor, fields); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"tenantId": req.TenantID,
		"vendor":   string(vendor),
	})
}
