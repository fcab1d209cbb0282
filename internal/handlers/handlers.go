package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/Brownie44l1/lesion-api/internal/classifier"
	"github.com/Brownie44l1/lesion-api/internal/failure"
	"github.com/Brownie44l1/lesion-api/internal/labels"
	"github.com/Brownie44l1/lesion-api/internal/web"
)

const errNoImage = "No image provided"

// Predictor is the part of *classifier.Classifier the handlers need.
type Predictor interface {
	ClassifyBase64(encoded string) (*classifier.Result, error)
	ClassifyReader(r io.Reader) (*classifier.Result, error)
	Labels() labels.Mapping
}

type Options struct {
	MaxBodyBytes int64
	// StrictErrors reports undecodable input as a client error (400)
	// instead of the legacy 500.
	StrictErrors bool
	Title        string
}

type Handler struct {
	predictor Predictor
	logger    *zap.Logger
	opts      Options
}

type PredictionRequest struct {
	Image string `json:"image"`
}

type PredictionResponse struct {
	Prediction string             `json:"prediction"`
	Scores     map[string]float32 `json:"scores,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewHandler(predictor Predictor, logger *zap.Logger, opts Options) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	if opts.Title == "" {
		opts.Title = "Skin Lesion Classifier"
	}
	return &Handler{
		predictor: predictor,
		logger:    logger.Named("handlers"),
		opts:      opts,
	}
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := web.IndexData{Title: h.opts.Title, Classes: h.predictor.Labels().Classes()}
	if err := web.RenderIndex(w, data); err != nil {
		h.logger.Error("render index", zap.Error(err))
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
	}
}

// Health reports liveness only; it does not touch the model.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, r, failure.New(failure.KindDecode, "read request body", err))
		return
	}

	encoded, err := imageField(body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.predictor.ClassifyBase64(encoded)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Debug("prediction", zap.String("label", result.Label), zap.Any("scores", result.Scores))
	writeJSON(w, http.StatusOK, PredictionResponse{Prediction: result.Label})
}

// imageField separates an absent "image" key from one that is present but
// unusable.
func imageField(body []byte) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", failure.New(failure.KindDecode, "parse request", err)
	}
	if fields == nil {
		return "", failure.Newf(failure.KindDecode, "parse request", "request body must be a JSON object")
	}

	raw, ok := fields["image"]
	if !ok {
		return "", failure.New(failure.KindMissingInput, "", errors.New(errNoImage))
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", failure.Newf(failure.KindDecode, "parse request", "image must be a base64 string, got null")
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return "", failure.Newf(failure.KindDecode, "parse request", "image must be a base64 string: %v", err)
	}
	return encoded, nil
}

// PredictFromImage classifies a multipart upload sent in the "image" field.
func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)

	if err := r.ParseMultipartForm(h.opts.MaxBodyBytes); err != nil {
		h.writeError(w, r, failure.New(failure.KindDecode, "parse form", err))
		return
	}

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		h.writeError(w, r, failure.New(failure.KindMissingInput, "", errors.New(errNoImage)))
		return
	}
	if err != nil {
		h.writeError(w, r, failure.New(failure.KindDecode, "read upload", err))
		return
	}
	defer file.Close()

	h.logger.Debug("received upload", zap.String("filename", header.Filename), zap.Int64("size", header.Size))

	result, err := h.predictor.ClassifyReader(file)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, PredictionResponse{Prediction: result.Label, Scores: result.Scores})
}

func (h *Handler) statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}

	switch failure.KindOf(err) {
	case failure.KindMissingInput:
		return http.StatusBadRequest
	case failure.KindDecode:
		if h.opts.StrictErrors {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := h.statusFor(err)
	msg := err.Error()
	if status == http.StatusRequestEntityTooLarge {
		msg = fmt.Sprintf("request body exceeds %d bytes", h.opts.MaxBodyBytes)
	}

	fields := []zap.Field{
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("kind", failure.KindOf(err).String()),
		zap.String("request_id", RequestID(r.Context())),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("prediction failed", fields...)
	} else {
		h.logger.Warn("rejected request", fields...)
	}

	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
