package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Mindburn-Labs/zkhotdog/pkg/geometry"
	"github.com/Mindburn-Labs/zkhotdog/pkg/measurement"
	"github.com/Mindburn-Labs/zkhotdog/pkg/service"
)

// DefaultMaxUploadBytes bounds a whole submission body.
const DefaultMaxUploadBytes int64 = 32 << 20

// maxPointFieldBytes bounds a startPoint or endPoint part.
const maxPointFieldBytes = 4 << 10

// Measurements is the service surface the handlers drive.
type Measurements interface {
	Submit(ctx context.Context, req service.SubmitRequest) (service.Receipt, error)
	Status(ctx context.Context, id string) (measurement.Measurement, error)
	Image(ctx context.Context, id string) ([]byte, error)
}

type handlers struct {
	svc       Measurements
	logger    *slog.Logger
	maxUpload int64
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
}

func (h *handlers) submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	req, err := h.readSubmission(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("submission exceeds %d bytes", tooLarge.Limit))
			return
		}
		WriteBadRequest(w, r, err.Error())
		return
	}

	receipt, err := h.svc.Submit(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, receipt)
	case errors.Is(err, service.ErrValidation):
		WriteBadRequest(w, r, err.Error())
	default:
		WriteInternal(w, r, h.logger, err)
	}
}

// readSubmission decodes the multipart form. Unknown parts are skipped.
func (h *handlers) readSubmission(r *http.Request) (service.SubmitRequest, error) {
	var req service.SubmitRequest
	mr, err := r.MultipartReader()
	if err != nil {
		return req, fmt.Errorf("expected multipart/form-data: %w", err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return req, nil
		}
		if err != nil {
			return req, fmt.Errorf("read multipart body: %w", err)
		}
		if err := h.readPart(r.Context(), part, &req); err != nil {
			_ = part.Close()
			return req, err
		}
		_ = part.Close()
	}
}

func (h *handlers) readPart(ctx context.Context, part *multipart.Part, req *service.SubmitRequest) error {
	name := part.FormName()
	switch name {
	case "image":
		data, err := io.ReadAll(part)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		req.Image = data
	case "startPoint", "endPoint":
		data, err := io.ReadAll(io.LimitReader(part, maxPointFieldBytes+1))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if len(data) > maxPointFieldBytes {
			return fmt.Errorf("%s exceeds %d bytes", name, maxPointFieldBytes)
		}
		p, err := geometry.ParsePoint(data)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if name == "startPoint" {
			req.Start = &p
		} else {
			req.End = &p
		}
	default:
		h.logger.WarnContext(ctx, "ignoring unknown multipart field", "field", name)
		_, _ = io.Copy(io.Discard, part)
	}
	return nil
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := h.svc.Status(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, m)
	case errors.Is(err, service.ErrNotFound):
		WriteNotFound(w, r, fmt.Sprintf("measurement %s not found", id))
	default:
		WriteInternal(w, r, h.logger, err)
	}
}

func (h *handlers) image(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, err := h.svc.Image(r.Context(), id)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", service.ImageContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", id+".jpg"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case errors.Is(err, service.ErrNotFound):
		WriteNotFound(w, r, fmt.Sprintf("image for measurement %s not found", id))
	default:
		WriteInternal(w, r, h.logger, err)
	}
}
