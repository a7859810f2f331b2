package intake

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/puntosalud/vitaledger/pkg/ledgersync"
	"github.com/puntosalud/vitaledger/pkg/observability/metrics"
)

type degradedSyncer struct{}

func (degradedSyncer) Sync(_ context.Context) (ledgersync.Result, error) {
	return ledgersync.Result{Outcome: ledgersync.OutcomeDegraded}, nil
}

func counterValue(t *testing.T, name string) int64 {
	t.Helper()
	rec := httptest.NewRecorder()
	metrics.WritePrometheus(rec)
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if strings.HasPrefix(line, name+" ") {
			v, err := strconv.ParseInt(strings.TrimPrefix(line, name+" "), 10, 64)
			if err != nil {
				t.Fatalf("unparseable counter line %q: %v", line, err)
			}
			return v
		}
	}
	t.Fatalf("counter %s not exposed", name)
	return 0
}

func TestHandleSyncCountsDegradedPasses(t *testing.T) {
	handler := NewHTTPHandler(nil, nil, degradedSyncer{}, nil, 0)
	router := mux.NewRouter()
	handler.Register(router)

	before := counterValue(t, "vitaledger_sync_degraded_total")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	after := counterValue(t, "vitaledger_sync_degraded_total")
	if after != before+1 {
		t.Fatalf("degraded counter not incremented: %d -> %d", before, after)
	}
}
