package worker

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/synaptica-ai/vision-uploader/pkg/common/logger"
)

type HTTPHandler struct {
	service *Service
}

func NewHTTPHandler(service *Service) *HTTPHandler {
	return &HTTPHandler{service: service}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/results/{accession}", h.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/results/{accession}", h.handleAcquire).Methods(http.MethodPost)
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	accession := mux.Vars(r)["accession"]

	result, err := h.service.Result(r.Context(), accession)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "result not found", http.StatusNotFound)
			return
		}
		logger.WithAccession(accession).WithError(err).Error("failed to load result")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// handleAcquire runs an acquisition synchronously and returns its result.
func (h *HTTPHandler) handleAcquire(w http.ResponseWriter, r *http.Request) {
	accession := mux.Vars(r)["accession"]

	result, err := h.service.Acquire(r.Context(), accession)
	if err != nil {
		logger.WithAccession(accession).WithError(err).Error("failed to acquire result")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
