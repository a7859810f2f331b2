package remotefile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/puntosalud/vitaledger/pkg/common/logger"
	"github.com/puntosalud/vitaledger/pkg/common/retry"
	"github.com/puntosalud/vitaledger/pkg/transport"
)

// Client is the slice of the SFTP surface the channel uses. The production
// implementation wraps *sftp.Client; tests run against an in-memory tree.
type Client interface {
	Create(path string) (io.WriteCloser, error)
	Open(path string) (io.ReadCloser, error)
	Stat(path string) (os.FileInfo, error)
	MkdirAll(path string) error
	ReadDir(path string) ([]os.FileInfo, error)
	Remove(path string) error
	Close() error
}

type sftpAdapter struct {
	*sftp.Client
}

func (a sftpAdapter) Create(path string) (io.WriteCloser, error) { return a.Client.Create(path) }
func (a sftpAdapter) Open(path string) (io.ReadCloser, error)    { return a.Client.Open(path) }

// connectFunc brackets one operation: it yields a connected client plus a
// teardown that closes both the SFTP subsystem and the SSH session.
type connectFunc func(ctx context.Context) (Client, func(), error)

// Channel performs single-file transfers with size-verified integrity.
// Sessions are not pooled: every operation opens a fresh connection and closes
// it on the way out, matching the low-frequency intake workload.
type Channel struct {
	connect connectFunc
	policy  retry.Policy
}

func NewChannel(opener *transport.Opener, policy retry.Policy) *Channel {
	return &Channel{
		policy: policy,
		connect: func(ctx context.Context) (Client, func(), error) {
			session, err := opener.Open(ctx)
			if err != nil {
				return nil, nil, err
			}
			sshClient, ok := session.Conn().(*ssh.Client)
			if !ok {
				session.Close()
				return nil, nil, fmt.Errorf("%w: unexpected connection type", transport.ErrConnect)
			}
			cl, err := sftp.NewClient(sshClient)
			if err != nil {
				session.Close()
				return nil, nil, fmt.Errorf("%w: opening sftp subsystem: %v", transport.ErrConnect, err)
			}
			teardown := func() {
				cl.Close()
				session.Close()
			}
			return sftpAdapter{cl}, teardown, nil
		},
	}
}

// NewChannelWithConnect is the test seam.
func NewChannelWithConnect(connect connectFunc, policy retry.Policy) *Channel {
	return &Channel{connect: connect, policy: policy}
}

// Upload copies localPath to remotePath, creating the remote parent directory
// when absent, and verifies the remote size afterwards. A size mismatch deletes
// the corrupt remote artifact (best effort) and is retried under the policy.
func (c *Channel) Upload(ctx context.Context, localPath, remotePath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrLocalMissing, localPath)
	}
	localSize := info.Size()

	return c.policy.Do(ctx, func() error {
		cl, teardown, err := c.connect(ctx)
		if err != nil {
			// The transport layer already exhausted its own retry budget.
			return retry.Permanent(err)
		}
		defer teardown()

		if err := c.ensureDir(cl, path.Dir(remotePath)); err != nil {
			return err
		}

		if err := copyLocalToRemote(cl, localPath, remotePath); err != nil {
			return fmt.Errorf("uploading %s: %w", remotePath, err)
		}

		remoteInfo, err := cl.Stat(remotePath)
		if err != nil {
			return fmt.Errorf("verifying %s: %w", remotePath, err)
		}
		if remoteInfo.Size() != localSize {
			logger.Log.WithFields(map[string]interface{}{
				"remote_path": remotePath,
				"local_size":  localSize,
				"remote_size": remoteInfo.Size(),
			}).Error("upload integrity mismatch, removing remote artifact")
			if rmErr := cl.Remove(remotePath); rmErr != nil {
				logger.Log.WithError(rmErr).WithField("remote_path", remotePath).
					Warn("failed to remove corrupt remote artifact")
			}
			return fmt.Errorf("%w: %s", ErrIntegrity, remotePath)
		}

		logger.Log.WithFields(map[string]interface{}{
			"local_path":  localPath,
			"remote_path": remotePath,
			"bytes":       localSize,
		}).Info("file uploaded")
		return nil
	})
}

// Download copies remotePath to localPath and verifies sizes. Absence of the
// remote file is the ErrNotFound outcome, not a fault. A size mismatch deletes
// the corrupt local copy and is retried under the policy.
func (c *Channel) Download(ctx context.Context, remotePath, localPath string) error {
	return c.policy.Do(ctx, func() error {
		cl, teardown, err := c.connect(ctx)
		if err != nil {
			return retry.Permanent(err)
		}
		defer teardown()

		remoteInfo, err := cl.Stat(remotePath)
		if err != nil {
			if isNotExist(err) {
				return retry.Permanent(fmt.Errorf("%w: %s", ErrNotFound, remotePath))
			}
			return fmt.Errorf("stat %s: %w", remotePath, err)
		}

		if err := copyRemoteToLocal(cl, remotePath, localPath); err != nil {
			// Never leave a half-written local copy behind for a reader.
			os.Remove(localPath)
			return fmt.Errorf("downloading %s: %w", remotePath, err)
		}

		localInfo, err := os.Stat(localPath)
		if err != nil {
			return fmt.Errorf("verifying %s: %w", localPath, err)
		}
		if localInfo.Size() != remoteInfo.Size() {
			logger.Log.WithFields(map[string]interface{}{
				"remote_path": remotePath,
				"local_size":  localInfo.Size(),
				"remote_size": remoteInfo.Size(),
			}).Error("download integrity mismatch, removing local copy")
			os.Remove(localPath)
			return fmt.Errorf("%w: %s", ErrIntegrity, remotePath)
		}

		logger.Log.WithFields(map[string]interface{}{
			"remote_path": remotePath,
			"local_path":  localPath,
			"bytes":       remoteInfo.Size(),
		}).Info("file downloaded")
		return nil
	})
}

// List returns the names in remoteDir, or ErrNotFound when the directory does
// not exist.
func (c *Channel) List(ctx context.Context, remoteDir string) ([]string, error) {
	cl, teardown, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer teardown()

	entries, err := cl.ReadDir(remoteDir)
	if err != nil {
		if isNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, remoteDir)
		}
		return nil, fmt.Errorf("listing %s: %w", remoteDir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// EnsureDir creates remoteDir when absent. Creating an existing directory is
// not an error.
func (c *Channel) EnsureDir(ctx context.Context, remoteDir string) error {
	cl, teardown, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer teardown()
	return c.ensureDir(cl, remoteDir)
}

// Remove deletes a remote file; a missing file is treated as already removed.
func (c *Channel) Remove(ctx context.Context, remotePath string) error {
	cl, teardown, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer teardown()

	if err := cl.Remove(remotePath); err != nil && !isNotExist(err) {
		return fmt.Errorf("removing %s: %w", remotePath, err)
	}
	return nil
}

// StatSize reports the remote file size, or ErrNotFound. The synchronizer uses
// it for the pre-upload drift check.
func (c *Channel) StatSize(ctx context.Context, remotePath string) (int64, error) {
	cl, teardown, err := c.connect(ctx)
	if err != nil {
		return 0, err
	}
	defer teardown()

	info, err := cl.Stat(remotePath)
	if err != nil {
		if isNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, remotePath)
		}
		return 0, fmt.Errorf("stat %s: %w", remotePath, err)
	}
	return info.Size(), nil
}

func (c *Channel) ensureDir(cl Client, dir string) error {
	if dir == "" || dir == "." || dir == "/" {
		return nil
	}
	if _, err := cl.Stat(dir); err == nil {
		return nil
	}
	if err := cl.MkdirAll(dir); err != nil {
		return fmt.Errorf("creating remote directory %s: %w", dir, err)
	}
	logger.Log.WithField("remote_dir", dir).Info("created remote directory")
	return nil
}

func copyLocalToRemote(cl Client, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := cl.Create(remotePath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func copyRemoteToLocal(cl Client, remotePath, localPath string) error {
	src, err := cl.Open(remotePath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, sftp.ErrSSHFxNoSuchFile)
}
