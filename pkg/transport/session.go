package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/puntosalud/vitaledger/pkg/common/config"
	"github.com/puntosalud/vitaledger/pkg/common/logger"
	"github.com/puntosalud/vitaledger/pkg/common/retry"
)

// Endpoint describes the remote SSH endpoint. It is built once from config and
// never mutated.
type Endpoint struct {
	Host     string
	Port     int
	User     string
	Password string
	Timeout  time.Duration

	// HostKeyCallback overrides the default accept-on-first-contact policy.
	// The default matches the closed operational network this runs on; supply
	// a pinned callback for anything stronger.
	HostKeyCallback ssh.HostKeyCallback
}

func EndpointFromConfig(cfg *config.Config) Endpoint {
	return Endpoint{
		Host:     cfg.SFTPHost,
		Port:     cfg.SFTPPort,
		User:     cfg.SFTPUser,
		Password: cfg.SFTPPassword,
		Timeout:  cfg.ConnectTimeout,
	}
}

func (e Endpoint) Addr() string {
	port := e.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", e.Host, port)
}

// Conn is the subset of *ssh.Client the session layer needs. Tests substitute
// an in-memory implementation through Dialer.
type Conn interface {
	Close() error
}

// Dialer opens the underlying SSH connection. The production dialer wraps
// ssh.Dial; tests inject failures and count attempts.
type Dialer interface {
	Dial(addr string, cfg *ssh.ClientConfig) (Conn, error)
}

type sshDialer struct{}

func (sshDialer) Dial(addr string, cfg *ssh.ClientConfig) (Conn, error) {
	return ssh.Dial("tcp", addr, cfg)
}

// Session is one authenticated SSH connection. Close is idempotent and safe
// after a partial failure.
type Session struct {
	conn      Conn
	closeOnce sync.Once
	closeErr  error
}

func (s *Session) Conn() Conn {
	return s.conn
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.conn != nil {
			s.closeErr = s.conn.Close()
		}
	})
	return s.closeErr
}

// Opener establishes sessions against a fixed endpoint under a retry policy.
type Opener struct {
	endpoint Endpoint
	policy   retry.Policy
	dialer   Dialer
}

func NewOpener(endpoint Endpoint, policy retry.Policy) *Opener {
	return &Opener{endpoint: endpoint, policy: policy, dialer: sshDialer{}}
}

// NewOpenerWithDialer is the test seam.
func NewOpenerWithDialer(endpoint Endpoint, policy retry.Policy, dialer Dialer) *Opener {
	return &Opener{endpoint: endpoint, policy: policy, dialer: dialer}
}

// Open attempts the connection up to the policy bound with a fixed delay
// between attempts. An authentication rejection aborts immediately; any other
// fault is retried, and the last cause rides on the surfaced ErrConnect.
func (o *Opener) Open(ctx context.Context) (*Session, error) {
	hostKey := o.endpoint.HostKeyCallback
	if hostKey == nil {
		hostKey = ssh.InsecureIgnoreHostKey()
	}

	clientCfg := &ssh.ClientConfig{
		User:            o.endpoint.User,
		Auth:            []ssh.AuthMethod{ssh.Password(o.endpoint.Password)},
		HostKeyCallback: hostKey,
		Timeout:         o.endpoint.Timeout,
	}

	addr := o.endpoint.Addr()
	var conn Conn
	attempt := 0

	err := o.policy.Do(ctx, func() error {
		attempt++
		c, dialErr := o.dialer.Dial(addr, clientCfg)
		if dialErr == nil {
			conn = c
			return nil
		}

		if isAuthError(dialErr) {
			logger.Log.WithError(dialErr).WithField("host", addr).Error("SSH authentication rejected")
			return retry.Permanent(fmt.Errorf("%w: %v", ErrAuth, dialErr))
		}

		logger.Log.WithError(dialErr).WithFields(map[string]interface{}{
			"host":    addr,
			"attempt": attempt,
		}).Warn("SSH connection attempt failed")
		return fmt.Errorf("%w: %v", ErrConnect, dialErr)
	})
	if err != nil {
		return nil, err
	}

	logger.Log.WithField("host", addr).Debug("SSH session established")
	return &Session{conn: conn}, nil
}

func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "password rejected")
}
