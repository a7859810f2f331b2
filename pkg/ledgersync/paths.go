package ledgersync

import (
	"path"
	"path/filepath"

	"github.com/puntosalud/vitaledger/pkg/common/config"
)

// Paths pins the local working set and its remote counterpart. Remote paths
// are always POSIX-joined regardless of the client platform.
type Paths struct {
	LocalLedger  string
	LocalECGDir  string
	RemoteLedger string
	RemoteECGDir string
}

func PathsFromConfig(cfg *config.Config) Paths {
	return Paths{
		LocalLedger:  filepath.Join(cfg.LocalDataDir, cfg.LedgerFileName),
		LocalECGDir:  filepath.Join(cfg.LocalDataDir, cfg.ECGSubdir),
		RemoteLedger: path.Join(cfg.SFTPBaseDir, cfg.LedgerFileName),
		RemoteECGDir: path.Join(cfg.SFTPBaseDir, cfg.ECGSubdir),
	}
}
