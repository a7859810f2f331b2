package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/puntosalud/vitaledger/pkg/common/logger"
	"github.com/puntosalud/vitaledger/pkg/ledgersync"
	"github.com/puntosalud/vitaledger/pkg/observability/metrics"
	"github.com/puntosalud/vitaledger/pkg/remotefile"
)

type Syncer interface {
	Sync(ctx context.Context) (ledgersync.Result, error)
}

type HTTPHandler struct {
	service *Service
	syncer  Syncer
}

func NewHTTPHandler(service *Service, syncer Syncer) *HTTPHandler {
	return &HTTPHandler{service: service, syncer: syncer}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/records", h.handleRecords).Methods(http.MethodGet)
	router.HandleFunc("/aggregates", h.handleAggregates).Methods(http.MethodGet)
	router.HandleFunc("/patients/{id}/records", h.handlePatientRecords).Methods(http.MethodGet)
	router.HandleFunc("/patients/{id}/ecgs", h.handlePatientECGs).Methods(http.MethodGet)
	router.HandleFunc("/patients/{id}/ecgs/{name}", h.handleFetchECG).Methods(http.MethodGet)
	router.HandleFunc("/refresh", h.handleRefresh).Methods(http.MethodPost)
}

func (h *HTTPHandler) handleRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.Records(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("failed to load records")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *HTTPHandler) handleAggregates(w http.ResponseWriter, r *http.Request) {
	agg, err := h.service.Aggregates(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("failed to compute aggregates")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func (h *HTTPHandler) handlePatientRecords(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	records, err := h.service.PatientExtract(id)
	if err != nil {
		logger.Log.WithError(err).Error("failed to load patient extract")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *HTTPHandler) handlePatientECGs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	refs, err := h.service.ECGs(r.Context(), id)
	if err != nil {
		if errors.Is(err, remotefile.ErrNotFound) {
			writeJSON(w, http.StatusOK, []ECGRef{})
			return
		}
		logger.Log.WithError(err).Error("failed to list ECGs")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, refs)
}

func (h *HTTPHandler) handleFetchECG(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	localPath, err := h.service.FetchECG(r.Context(), name)
	if err != nil {
		if errors.Is(err, remotefile.ErrNotFound) {
			http.Error(w, "ecg not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to fetch ECG")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer os.Remove(localPath)

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+name+"\"")
	http.ServeFile(w, r, localPath)
}

// handleRefresh forces a sync pass and drops the cache so the next read sees
// fresh remote data.
func (h *HTTPHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncer.Sync(r.Context())
	metrics.ObserveSyncPass(result.Outcome == ledgersync.OutcomeDegraded, result.ConflictRetries)
	metrics.ObserveAttachments(result.AttachmentsUploaded, result.AttachmentsSkipped)
	if err != nil {
		logger.Log.WithError(err).Error("refresh sync failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"outcome": string(result.Outcome),
			"error":   err.Error(),
		})
		return
	}
	h.service.Invalidate(r.Context())
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
