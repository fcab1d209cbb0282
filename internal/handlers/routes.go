package handlers

import (
	"net/http"

	"go.uber.org/zap"
)

// Routes registers the API on a fresh mux and wraps it with CORS, panic
// recovery and access logging, with the access log outermost.
func Routes(h *Handler, cors CORS, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.Index)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /predict", h.Predict)
	mux.HandleFunc("POST /predict/image", h.PredictFromImage)

	return AccessLog(logger, Recover(logger, cors.Wrap(mux)))
}
