package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	syncPasses          atomic.Int64
	syncDegraded        atomic.Int64
	syncConflictRetries atomic.Int64
	recordsCommitted    atomic.Int64
	recordsPartial      atomic.Int64
	recordsRejected     atomic.Int64
	recordsFailed       atomic.Int64
	attachmentsUploaded atomic.Int64
	attachmentsSkipped  atomic.Int64
	alertsSent          atomic.Int64
)

func ObserveSyncPass(degraded bool, conflictRetries int) {
	syncPasses.Add(1)
	if degraded {
		syncDegraded.Add(1)
	}
	syncConflictRetries.Add(int64(conflictRetries))
}

func ObserveAttachments(uploaded, skipped int) {
	attachmentsUploaded.Add(int64(uploaded))
	attachmentsSkipped.Add(int64(skipped))
}

func IncRecordCommitted() { recordsCommitted.Add(1) }
func IncRecordPartial()   { recordsPartial.Add(1) }
func IncRecordRejected()  { recordsRejected.Add(1) }
func IncRecordFailed()    { recordsFailed.Add(1) }

func ObserveAlertsSent(n int) { alertsSent.Add(int64(n)) }

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP vitaledger_sync_passes_total Number of ledger sync passes executed.\n")
	fmt.Fprintf(w, "# TYPE vitaledger_sync_passes_total counter\n")
	fmt.Fprintf(w, "vitaledger_sync_passes_total %d\n", syncPasses.Load())

	fmt.Fprintf(w, "# HELP vitaledger_sync_degraded_total Number of sync passes that recovered from a corrupt remote ledger.\n")
	fmt.Fprintf(w, "# TYPE vitaledger_sync_degraded_total counter\n")
	fmt.Fprintf(w, "vitaledger_sync_degraded_total %d\n", syncDegraded.Load())

	fmt.Fprintf(w, "# HELP vitaledger_sync_conflict_retries_total Number of re-merge rounds caused by concurrent remote writers.\n")
	fmt.Fprintf(w, "# TYPE vitaledger_sync_conflict_retries_total counter\n")
	fmt.Fprintf(w, "vitaledger_sync_conflict_retries_total %d\n", syncConflictRetries.Load())

	fmt.Fprintf(w, "# HELP vitaledger_records_committed_total Number of submissions fully committed to the remote store.\n")
	fmt.Fprintf(w, "# TYPE vitaledger_records_committed_total counter\n")
	fmt.Fprintf(w, "vitaledger_records_committed_total %d\n", recordsCommitted.Load())

	fmt.Fprintf(w, "# HELP vitaledger_records_partial_total Number of submissions persisted locally but not yet remote.\n")
	fmt.Fprintf(w, "# TYPE vitaledger_records_partial_total counter\n")
	fmt.Fprintf(w, "vitaledger_records_partial_total %d\n", recordsPartial.Load())

	fmt.Fprintf(w, "# HELP vitaledger_records_rejected_total Number of submissions rejected by validation.\n")
	fmt.Fprintf(w, "# TYPE vitaledger_records_rejected_total counter\n")
	fmt.Fprintf(w, "vitaledger_records_rejected_total %d\n", recordsRejected.Load())

	fmt.Fprintf(w, "# HELP vitaledger_records_failed_total Number of submissions whose local ledger write failed.\n")
	fmt.Fprintf(w, "# TYPE vitaledger_records_failed_total counter\n")
	fmt.Fprintf(w, "vitaledger_records_failed_total %d\n", recordsFailed.Load())

	fmt.Fprintf(w, "# HELP vitaledger_attachments_uploaded_total Number of ECG attachments uploaded during sync.\n")
	fmt.Fprintf(w, "# TYPE vitaledger_attachments_uploaded_total counter\n")
	fmt.Fprintf(w, "vitaledger_attachments_uploaded_total %d\n", attachmentsUploaded.Load())

	fmt.Fprintf(w, "# HELP vitaledger_attachments_skipped_total Number of ECG attachment uploads that failed and were skipped.\n")
	fmt.Fprintf(w, "# TYPE vitaledger_attachments_skipped_total counter\n")
	fmt.Fprintf(w, "vitaledger_attachments_skipped_total %d\n", attachmentsSkipped.Load())

	fmt.Fprintf(w, "# HELP vitaledger_alerts_sent_total Number of variation alerts handed to the notifier.\n")
	fmt.Fprintf(w, "# TYPE vitaledger_alerts_sent_total counter\n")
	fmt.Fprintf(w, "vitaledger_alerts_sent_total %d\n", alertsSent.Load())
}
