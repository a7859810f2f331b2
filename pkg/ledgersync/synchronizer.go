package ledgersync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/puntosalud/vitaledger/pkg/common/logger"
	"github.com/puntosalud/vitaledger/pkg/common/retry"
	"github.com/puntosalud/vitaledger/pkg/ledger"
	"github.com/puntosalud/vitaledger/pkg/remotefile"
)

// Outcome summarizes what the sync pass achieved for the caller's messaging:
// the user is always told whether the remote store has the data or only the
// local cache does.
type Outcome string

const (
	// OutcomeFresh means the remote ledger was pulled, merged and pushed.
	OutcomeFresh Outcome = "fresh"
	// OutcomeBootstrapped means no remote ledger existed yet; a new canonical
	// one was materialized and pushed.
	OutcomeBootstrapped Outcome = "bootstrapped"
	// OutcomeDegraded means the remote ledger was present but corrupt; the
	// pass proceeded from the local copy without fresh remote data.
	OutcomeDegraded Outcome = "degraded"
)

// ErrConflict is returned when concurrent writers kept changing the remote
// ledger faster than the re-merge loop could catch up.
var ErrConflict = errors.New("remote ledger changed during sync, retries exhausted")

type Result struct {
	SessionID           string
	Outcome             Outcome
	RecordsTotal        int
	AttachmentsUploaded int
	AttachmentsSkipped  int
	RowsRepaired        int
	RowsPurged          int
	ConflictRetries     int
}

// Channel is the slice of the remote file channel the synchronizer drives.
type Channel interface {
	Upload(ctx context.Context, localPath, remotePath string) error
	Download(ctx context.Context, remotePath, localPath string) error
	List(ctx context.Context, remoteDir string) ([]string, error)
	EnsureDir(ctx context.Context, remoteDir string) error
	StatSize(ctx context.Context, remotePath string) (int64, error)
	Remove(ctx context.Context, remotePath string) error
}

// Synchronizer reconciles the local ledger and attachment directory against
// the remote copies: download-merge, attachments first, ledger last, with an
// optimistic drift check before the final overwrite. There is no remote
// locking; the check narrows the lost-update window, it does not close it.
type Synchronizer struct {
	channel Channel
	store   *ledger.Store
	paths   Paths
	policy  retry.Policy
}

func New(channel Channel, store *ledger.Store, paths Paths, policy retry.Policy) *Synchronizer {
	return &Synchronizer{channel: channel, store: store, paths: paths, policy: policy}
}

// Sync runs one full reconciliation pass.
func (s *Synchronizer) Sync(ctx context.Context) (Result, error) {
	result := Result{SessionID: uuid.New().String()}
	log := logger.Log.WithField("sync_session", result.SessionID)
	log.Info("sync pass started")

	state, err := s.pullAndMerge(ctx)
	if err != nil {
		return result, err
	}
	result.Outcome = state.outcome
	result.RecordsTotal = len(state.rows)
	result.RowsPurged = state.rowsPurged
	merged := state.rows
	remoteSize := state.remoteSize

	purgedKeys, err := s.store.PurgedKeys()
	if err != nil {
		return result, err
	}
	purgedNames := make(map[string]struct{}, len(purgedKeys))
	for _, k := range purgedKeys {
		purgedNames[k.AttachmentName()] = struct{}{}
	}

	// Attachments go up before the ledger so a reader who sees the updated
	// ledger can always resolve the attachment it references.
	uploaded, skipped, err := s.pushAttachments(ctx, purgedNames, log)
	if err != nil {
		return result, err
	}
	result.AttachmentsUploaded = uploaded
	result.AttachmentsSkipped = skipped

	repaired, err := s.repairPendingRows(ctx, merged)
	if err != nil {
		return result, err
	}
	result.RowsRepaired = repaired

	err = s.policy.Do(ctx, func() error {
		current, statErr := s.channel.StatSize(ctx, s.paths.RemoteLedger)
		switch {
		case errors.Is(statErr, remotefile.ErrNotFound):
			current = -1
		case statErr != nil:
			return retry.Permanent(statErr)
		}

		if current != remoteSize {
			log.WithFields(map[string]interface{}{
				"expected_size": remoteSize,
				"current_size":  current,
			}).Warn("remote ledger changed since download, re-merging")
			result.ConflictRetries++

			refreshed, mergeErr := s.pullAndMerge(ctx)
			if mergeErr != nil {
				return retry.Permanent(mergeErr)
			}
			remoteSize = refreshed.remoteSize
			result.RecordsTotal = len(refreshed.rows)
			return fmt.Errorf("%w", ErrConflict)
		}

		if upErr := s.channel.Upload(ctx, s.paths.LocalLedger, s.paths.RemoteLedger); upErr != nil {
			return retry.Permanent(upErr)
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	// The purge has now reached the remote ledger; only at this point do the
	// attachments of the removed rows go away. Soft-deleted rows keep theirs.
	if len(purgedKeys) > 0 {
		s.removePurgedAttachments(ctx, purgedKeys, log)
		if err := s.store.ClearPurged(); err != nil {
			log.WithError(err).Warn("failed to clear purge markers")
		}
	}

	log.WithFields(map[string]interface{}{
		"outcome":              string(result.Outcome),
		"records":              result.RecordsTotal,
		"attachments_uploaded": result.AttachmentsUploaded,
		"attachments_skipped":  result.AttachmentsSkipped,
		"rows_repaired":        result.RowsRepaired,
		"rows_purged":          result.RowsPurged,
		"conflict_retries":     result.ConflictRetries,
	}).Info("sync pass completed")
	return result, nil
}

// mergeState is what one pullAndMerge pass produced.
type mergeState struct {
	rows       []ledger.Record
	remoteSize int64
	outcome    Outcome
	rowsPurged int
}

// pullAndMerge downloads the remote ledger, merges it with the local rows,
// drops rows whose purge is pending and rewrites the local artifact. It
// reports the remote size observed at download time (-1 when absent) for the
// later drift check.
func (s *Synchronizer) pullAndMerge(ctx context.Context) (mergeState, error) {
	state := mergeState{outcome: OutcomeFresh, remoteSize: -1}
	tmpPath := s.paths.LocalLedger + ".remote"
	defer os.Remove(tmpPath)

	var remoteRows []ledger.Record
	err := s.channel.Download(ctx, s.paths.RemoteLedger, tmpPath)
	switch {
	case errors.Is(err, remotefile.ErrNotFound):
		state.outcome = OutcomeBootstrapped
	case err != nil:
		return state, fmt.Errorf("downloading remote ledger: %w", err)
	default:
		if info, statErr := os.Stat(tmpPath); statErr == nil {
			state.remoteSize = info.Size()
		}
		rows, recovered, loadErr := ledger.NewStore(tmpPath).Load()
		if loadErr != nil {
			return state, fmt.Errorf("reading downloaded ledger: %w", loadErr)
		}
		if recovered {
			state.outcome = OutcomeDegraded
		}
		remoteRows = rows
	}

	localRows, _, err := s.store.Load()
	if err != nil {
		return state, err
	}

	merged := mergeRows(localRows, remoteRows)

	// A locally confirmed purge must not be undone by the remote snapshot:
	// marked keys are dropped from the merge so the removal propagates on the
	// final upload instead of the remote row winning.
	purgedKeys, err := s.store.PurgedKeys()
	if err != nil {
		return state, err
	}
	if len(purgedKeys) > 0 {
		gone := make(map[ledger.Key]struct{}, len(purgedKeys))
		for _, k := range purgedKeys {
			gone[k] = struct{}{}
		}
		kept := merged[:0]
		for _, r := range merged {
			if _, purged := gone[r.Key()]; purged {
				state.rowsPurged++
				continue
			}
			kept = append(kept, r)
		}
		merged = kept
	}

	if err := s.store.Rewrite(merged); err != nil {
		return state, err
	}
	state.rows = merged
	return state, nil
}

// mergeRows unions the two row sets keyed by row identity. Local rows win on
// conflicts: status and notified-flag mutations happen locally and are newer
// than whatever snapshot the remote holds.
func mergeRows(local, remote []ledger.Record) []ledger.Record {
	byKey := make(map[ledger.Key]ledger.Record, len(local)+len(remote))
	order := make([]ledger.Key, 0, len(local)+len(remote))

	for _, r := range remote {
		k := r.Key()
		if _, seen := byKey[k]; !seen {
			order = append(order, k)
		}
		byKey[k] = r
	}
	for _, r := range local {
		k := r.Key()
		if _, seen := byKey[k]; !seen {
			order = append(order, k)
		}
		byKey[k] = r
	}

	out := make([]ledger.Record, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// pushAttachments uploads every local attachment missing remotely, except
// those belonging to purge-marked rows. One failed upload is logged and
// skipped so the rest of the batch still gets a chance.
func (s *Synchronizer) pushAttachments(ctx context.Context, purged map[string]struct{}, log *logrus.Entry) (uploaded, skipped int, err error) {
	if err := s.channel.EnsureDir(ctx, s.paths.RemoteECGDir); err != nil {
		return 0, 0, fmt.Errorf("ensuring remote attachment directory: %w", err)
	}

	remoteNames, err := s.channel.List(ctx, s.paths.RemoteECGDir)
	if err != nil && !errors.Is(err, remotefile.ErrNotFound) {
		return 0, 0, fmt.Errorf("listing remote attachments: %w", err)
	}
	remoteSet := make(map[string]struct{}, len(remoteNames))
	for _, n := range remoteNames {
		remoteSet[n] = struct{}{}
	}

	entries, err := os.ReadDir(s.paths.LocalECGDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("listing local attachments: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if _, exists := remoteSet[name]; exists {
			continue
		}
		if _, gone := purged[name]; gone {
			continue
		}
		localPath := s.paths.LocalECGDir + string(os.PathSeparator) + name
		remotePath := path.Join(s.paths.RemoteECGDir, name)
		if upErr := s.channel.Upload(ctx, localPath, remotePath); upErr != nil {
			log.WithField("attachment", name).Warn("attachment upload failed, skipping")
			skipped++
			continue
		}
		uploaded++
	}
	return uploaded, skipped, nil
}

// removePurgedAttachments deletes the ECGs of rows whose purge just reached
// the remote ledger, locally and best-effort remotely. Rows that are merely
// soft-deleted are never touched here, so a deactivation stays reversible.
func (s *Synchronizer) removePurgedAttachments(ctx context.Context, keys []ledger.Key, log *logrus.Entry) {
	for _, k := range keys {
		name := k.AttachmentName()
		if err := os.Remove(filepath.Join(s.paths.LocalECGDir, name)); err != nil && !os.IsNotExist(err) {
			log.WithError(err).WithField("attachment", name).Warn("failed to remove local attachment")
		}
		if err := s.channel.Remove(ctx, path.Join(s.paths.RemoteECGDir, name)); err != nil {
			log.WithError(err).WithField("attachment", name).Warn("failed to remove remote attachment")
		}
	}
}

// repairPendingRows promotes rows stuck in the attachment-upload-failed state
// once their attachment is confirmed present on the remote side.
func (s *Synchronizer) repairPendingRows(ctx context.Context, merged []ledger.Record) (int, error) {
	var pending []int
	for i, r := range merged {
		if r.Status == ledger.StatusAttachmentFailed {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	remoteNames, err := s.channel.List(ctx, s.paths.RemoteECGDir)
	if err != nil {
		if errors.Is(err, remotefile.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	remoteSet := make(map[string]struct{}, len(remoteNames))
	for _, n := range remoteNames {
		remoteSet[n] = struct{}{}
	}

	repaired := 0
	for _, i := range pending {
		if _, ok := remoteSet[merged[i].AttachmentName()]; ok {
			merged[i].Status = ledger.StatusWithAttachment
			repaired++
		}
	}
	if repaired == 0 {
		return 0, nil
	}
	return repaired, s.store.Rewrite(merged)
}
