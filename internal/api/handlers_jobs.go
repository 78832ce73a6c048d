package api

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/tuning-platform/internal/service"
	"github.com/tuning-platform/internal/types"
)

const errCodeInvalidInput = "INVALID_INPUT"

const maxUploadBytes = 64 << 20

// saveUpload writes a multipart file field to a temp dir, preserving the
// upload's file name. The caller removes the returned dir.
func saveUpload(r *http.Request, field string) (dir, path string, err error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", "", err
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", "", err
	}
	defer file.Close()

	dir, err = os.MkdirTemp("", "upload-")
	if err != nil {
		return "", "", err
	}
	path = filepath.Join(dir, filepath.Base(header.Filename))
	out, err := os.Create(path)
	if err != nil {
		os.RemoveAll(dir)
		return "", "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		os.RemoveAll(dir)
		return "", "", err
	}
	return dir, path, nil
}

// handleSubmitDecode handles POST /api/jobs - submit an original file for
// decoding. Multipart form: "file" plus the job metadata fields.
func (s *Server) handleSubmitDecode(w http.ResponseWriter, r *http.Request) {
	dir, path, err := saveUpload(r, "file")
	if err != nil {
		respondError(w, http.StatusBadRequest, errCodeInvalidInput, "A 'file' upload is required", nil)
		return
	}
	defer os.RemoveAll(dir)

	tenantID := r.FormValue("tenantId")
	if tenantID == "" {
		respondError(w, http.StatusBadRequest, errCodeInvalidInput, "tenantId is required", nil)
		return
	}

	vendor, err := types.ParseVendor(r.FormValue("vendor"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errCodeInvalidInput, err.Error(), nil)
		return
	}

	meta := service.JobMeta{
		CustomerID:    r.FormValue("customerId"),
		Car:           r.FormValue("car"),
		Controller:    r.FormValue("controller"),
		Mode:          types.JobMode(r.FormValue("mode")),
		BootComponent: types.BootComponent(r.FormValue("bootComponent")),
		SerialNumber:  r.FormValue("serialNumber"),
		ECUID:         r.FormValue("ecuId"),
		MCUID:         r.FormValue("mcuId"),
	}
	if meta.Mode == "" {
		meta.Mode = types.ModeOBD
	}
	if credits := r.FormValue("credits"); credits != "" {
		n, err := strconv.Atoi(credits)
		if err != nil {
			respondError(w, http.StatusBadRequest, errCodeInvalidInput, "credits must be an integer", nil)
			return
		}
		meta.Credits = n
	}

	jobID, err := s.fileService.SubmitDecode(r.Context(), tenantID, path, vendor, meta)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

// handleGetStatus handles GET /api/jobs/:id - vendor-neutral job status.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	state, err := s.fileService.GetStatus(r.Context(), jobID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, state)
}

// handleSelectScripts handles POST /api/jobs/:id/scripts - choose the scripts
// for the build stage by label.
func (s *Server) handleSelectScripts(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	var req struct {
		Labels []string `json:"labels"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errCodeInvalidInput, "Invalid request body", nil)
		return
	}

	if err := s.fileService.SelectScripts(r.Context(), jobID, req.Labels); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

// handleSubmitEncode handles POST /api/jobs/:id/encode - submit an externally
// modified file for encoding. Multipart form: "file".
func (s *Server) handleSubmitEncode(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	dir, path, err := saveUpload(r, "file")
	if err != nil {
		respondError(w, http.StatusBadRequest, errCodeInvalidInput, "A 'file' upload is required", nil)
		return
	}
	defer os.RemoveAll(dir)

	if err := s.fileService.SubmitEncode(r.Context(), jobID, path); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

// handleDownloadFinal handles GET /api/jobs/:id/file - download the encoded
// result once the request is ready.
func (s *Server) handleDownloadFinal(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	path, err := s.fileService.FinalFilePath(r.Context(), jobID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(path)+"\"")
	http.ServeFile(w, r, path)
}

// handleMarkDelivered handles POST /api/jobs/:id/delivered.
func (s *Server) handleMarkDelivered(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	if err := s.fileService.MarkDelivered(r.Context(), jobID); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"jobId": jobID})
}
