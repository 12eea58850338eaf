package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-live-bridge/pkg/gateway/apierror"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/media"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/metrics"
	"github.com/vango-go/vai-live-bridge/pkg/gateway/validation"
)

const (
	uploadFormField = "file"

	// multipartOverhead covers boundaries and part headers on top of the file.
	multipartOverhead = 1 << 20
)

// UploadHandler accepts a single multipart file, validates it and stores it
// through the media processor.
type UploadHandler struct {
	Processor media.Processor
	MaxBytes  int64
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

type uploadResponse struct {
	Success bool           `json:"success"`
	File    media.Artifact `json:"file"`
	Message string         `json:"message"`
}

type uploadError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (h UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reqID := requestIDFromRequest(r)

	if h.MaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes+multipartOverhead)
	}
	file, header, err := r.FormFile(uploadFormField)
	if err != nil {
		h.Metrics.RecordUpload("rejected")
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, uploadError{Error: "File too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, uploadError{Error: "No file uploaded"})
		return
	}
	defer file.Close()

	mimeType := media.ResolveMIMEType(header.Header.Get("Content-Type"), header.Filename)
	if err := validation.ValidateUpload(mimeType, header.Size, h.MaxBytes); err != nil {
		h.Metrics.RecordUpload("rejected")
		writeJSON(w, http.StatusBadRequest, uploadError{Error: err.Error()})
		return
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		h.Metrics.RecordUpload("failed")
		logger.Warn("upload read failed", "request_id", reqID, "error", err)
		writeJSON(w, http.StatusInternalServerError, uploadError{Error: "Failed to process file", Details: err.Error()})
		return
	}

	art, err := h.Processor.ProcessFile(r.Context(), raw, mimeType, header.Filename)
	if err != nil {
		h.Metrics.RecordUpload("failed")
		logger.Error("upload processing failed", "request_id", reqID, "file", header.Filename, "error", err)
		writeJSON(w, http.StatusInternalServerError, uploadError{Error: "Failed to process file", Details: err.Error()})
		return
	}

	h.Metrics.RecordUpload("ok")
	logger.Info("file uploaded", "request_id", reqID, "artifact_id", art.ID, "mime_type", art.MIMEType, "size", art.Size)
	writeJSON(w, http.StatusOK, uploadResponse{
		Success: true,
		File:    art,
		Message: "File uploaded and processed successfully",
	})
}

func writeMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	apierror.Write(w, http.StatusMethodNotAllowed, requestIDFromRequest(r), &apierror.Error{
		Type:    apierror.ErrInvalidRequest,
		Message: "method not allowed",
		Code:    "method_not_allowed",
	})
}
