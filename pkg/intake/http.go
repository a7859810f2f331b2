package intake

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/puntosalud/vitaledger/pkg/common/logger"
	"github.com/puntosalud/vitaledger/pkg/ledger"
	"github.com/puntosalud/vitaledger/pkg/ledgersync"
	"github.com/puntosalud/vitaledger/pkg/observability/metrics"
)

// Scanner is the alert pass the kiosk can trigger on demand.
type Scanner interface {
	Run(ctx context.Context) (int, error)
}

type HTTPHandler struct {
	writer  *Writer
	store   *ledger.Store
	syncer  Syncer
	scanner Scanner
	maxBody int64
}

func NewHTTPHandler(writer *Writer, store *ledger.Store, syncer Syncer, scanner Scanner, maxBody int64) *HTTPHandler {
	return &HTTPHandler{writer: writer, store: store, syncer: syncer, scanner: scanner, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/records", h.handleSubmit).Methods(http.MethodPost)
	router.HandleFunc("/records", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/records/deactivate", h.handleDeactivate).Methods(http.MethodPost)
	router.HandleFunc("/sync", h.handleSync).Methods(http.MethodPost)
	router.HandleFunc("/alerts/scan", h.handleScan).Methods(http.MethodPost)
}

type submitResponse struct {
	Outcome    string         `json:"outcome"`
	Record     *ledger.Record `json:"record,omitempty"`
	Attachment string         `json:"attachment,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// handleSubmit accepts a multipart form with a "record" JSON part and an
// optional "ecg" PDF part.
func (h *HTTPHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	if err := r.ParseMultipartForm(h.maxBody); err != nil {
		http.Error(w, "expected multipart form", http.StatusBadRequest)
		return
	}

	var sub Submission
	if err := json.Unmarshal([]byte(r.FormValue("record")), &sub); err != nil {
		logger.Log.WithError(err).Warn("invalid record payload")
		http.Error(w, "invalid record payload", http.StatusBadRequest)
		return
	}

	var attachment []byte
	if file, _, err := r.FormFile("ecg"); err == nil {
		defer file.Close()
		attachment, err = io.ReadAll(file)
		if err != nil {
			http.Error(w, "failed to read attachment", http.StatusBadRequest)
			return
		}
	}

	outcome, rec, err := h.writer.Submit(r.Context(), sub, attachment)
	resp := submitResponse{Outcome: string(outcome), Record: rec}
	status := http.StatusCreated

	switch {
	case outcome == OutcomeRejected:
		resp.Error = err.Error()
		status = http.StatusBadRequest
	case outcome == OutcomeFailed:
		resp.Error = err.Error()
		status = http.StatusInternalServerError
	case err != nil:
		resp.Error = err.Error()
		status = http.StatusAccepted
	case outcome == OutcomePartiallyCommitted:
		status = http.StatusAccepted
	}
	if rec != nil && rec.Status == ledger.StatusWithAttachment {
		resp.Attachment = rec.AttachmentName()
	}

	writeJSON(w, status, resp)
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	records, _, err := h.store.Load()
	if err != nil {
		logger.Log.WithError(err).Error("failed to load ledger")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *HTTPHandler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	var keys []ledger.Key
	if err := json.NewDecoder(r.Body).Decode(&keys); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(keys) == 0 {
		http.Error(w, "no rows named", http.StatusBadRequest)
		return
	}

	changed, err := h.store.MarkDeactivated(keys)
	if err != nil {
		logger.Log.WithError(err).Error("failed to deactivate rows")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deactivated": changed})
}

func (h *HTTPHandler) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncer.Sync(r.Context())
	metrics.ObserveSyncPass(result.Outcome == ledgersync.OutcomeDegraded, result.ConflictRetries)
	metrics.ObserveAttachments(result.AttachmentsUploaded, result.AttachmentsSkipped)
	if err != nil {
		logger.Log.WithError(err).Error("sync pass failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"outcome": string(result.Outcome),
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) handleScan(w http.ResponseWriter, r *http.Request) {
	if h.scanner == nil {
		http.Error(w, "alerting not configured", http.StatusNotImplemented)
		return
	}
	sent, err := h.scanner.Run(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("alert scan failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"alerts_sent": sent})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
