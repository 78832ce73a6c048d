package api

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tuning-platform/internal/service"
)

// readUpload returns the bytes of a multipart file field.
func readUpload(r *http.Request, field string) ([]byte, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// handleCaptureScript handles POST /api/scripts - capture a reusable script
// from an original/modified pair. Multipart form: "original" and "modified"
// files plus tenantId, car, controller, label, admin, automatic fields.
func (s *Server) handleCaptureScript(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, errCodeInvalidInput, "Invalid multipart body", nil)
		return
	}

	original, err := readUpload(r, "original")
	if err != nil {
		respondError(w, http.StatusBadRequest, errCodeInvalidInput, "An 'original' upload is required", nil)
		return
	}
	modified, err := readUpload(r, "modified")
	if err != nil {
		respondError(w, http.StatusBadRequest, errCodeInvalidInput, "A 'modified' upload is required", nil)
		return
	}

	in := service.CaptureScriptInput{
		TenantID:       r.FormValue("tenantId"),
		Car:            r.FormValue("car"),
		Controller:     r.FormValue("controller"),
		Label:          r.FormValue("label"),
		Admin:          r.FormValue("admin"),
		SourceFileName: r.FormValue("sourceFileName"),
		Automatic:      r.FormValue("automatic") == "true",
		Original:       original,
		Modified:       modified,
	}
	if in.TenantID == "" || in.Car == "" || in.Controller == "" || in.Label == "" {
		respondError(w, http.StatusBadRequest, errCodeInvalidInput, "tenantId, car, controller and label are required", nil)
		return
	}

	scriptID, err := s.fileService.CaptureScript(r.Context(), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"scriptId": scriptID})
}

// handleListScripts handles GET /api/scripts - latest script versions for a
// (car, controller).
func (s *Server) handleListScripts(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenantId")
	car := r.URL.Query().Get("car")
	controller := r.URL.Query().Get("controller")
	if tenantID == "" || car == "" || controller == "" {
		respondError(w, http.StatusBadRequest, errCodeInvalidInput, "tenantId, car and controller are required", nil)
		return
	}

	scripts, err := s.fileService.ListScripts(r.Context(), tenantID, car, controller)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"scripts": scripts,
		"count":   len(scripts),
	})
}

// handleReplayScript handles POST /api/scripts/:id/replay - apply a stored
// script to an uploaded base file and return the patched bytes.
func (s *Server) handleReplayScript(w http.ResponseWriter, r *http.Request) {
	scriptID := mux.Vars(r)["id"]

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, errCodeInvalidInput, "Invalid multipart body", nil)
		return
	}
	base, err := readUpload(r, "base")
	if err != nil {
		respondError(w, http.StatusBadRequest, errCodeInvalidInput, "A 'base' upload is required", nil)
		return
	}

	patched, err := s.fileService.ReplayScript(r.Context(), scriptID, base)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(patched)
}
