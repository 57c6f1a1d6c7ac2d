// Package ssh powers off the database host over SSH once a backup run is over.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/fgeck/mysqldumper/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

const dialTimeout = 30 * time.Second

// Service defines the interface for remote shutdown operations.
type Service interface {
	Shutdown(ctx context.Context, cfg models.ShutdownConfig) (*models.SSHResult, error)
	TestConnection(ctx context.Context, cfg models.ShutdownConfig) (*models.SSHResult, error)
}

// Client wraps ssh.Client for mocking.
type Client interface {
	NewSession() (Session, error)
	Close() error
}

// Session wraps ssh.Session for mocking.
type Session interface {
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

// Dialer opens SSH clients.
type Dialer interface {
	Dial(network, addr string, config *ssh.ClientConfig) (Client, error)
}

// DefaultDialer dials with golang.org/x/crypto/ssh.
type DefaultDialer struct{}

// Dial connects and authenticates to addr.
func (d *DefaultDialer) Dial(network, addr string, config *ssh.ClientConfig) (Client, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &sshClient{client: client}, nil
}

type sshClient struct {
	client *ssh.Client
}

func (c *sshClient) NewSession() (Session, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (c *sshClient) Close() error {
	return c.client.Close()
}

// Impl implements the SSH Service interface.
type Impl struct {
	dialer Dialer
	logger zerolog.Logger
}

// New creates a new SSH service.
func New(logger zerolog.Logger) *Impl {
	return NewWithDialer(logger, &DefaultDialer{})
}

// NewWithDialer creates a new SSH service with a custom dialer (for testing).
func NewWithDialer(logger zerolog.Logger, dialer Dialer) *Impl {
	return &Impl{dialer: dialer, logger: logger}
}

// ShutdownCommand returns the command that powers off a host running cfg.OS.
// Windows takes the delay in seconds and never shuts down without one.
func ShutdownCommand(cfg models.ShutdownConfig) string {
	if cfg.OS == "windows" {
		seconds := cfg.ShutdownDelay * 60
		if seconds == 0 {
			seconds = 60
		}
		return fmt.Sprintf("shutdown /s /t %d", seconds)
	}
	if cfg.ShutdownDelay == 0 {
		return "sudo shutdown -h now"
	}
	return fmt.Sprintf("sudo shutdown -h +%d", cfg.ShutdownDelay)
}

// Shutdown schedules a power-off on the remote host.
func (s *Impl) Shutdown(ctx context.Context, cfg models.ShutdownConfig) (*models.SSHResult, error) {
	s.logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("user", cfg.Username).
		Int("delay_minutes", cfg.ShutdownDelay).
		Msg("initiating remote shutdown")

	cmd := ShutdownCommand(cfg)
	result, err := s.run(ctx, cfg, cmd)
	if err != nil {
		// The host may drop the connection before reporting an exit status.
		// Only a reported non-zero status means the command itself failed.
		var exitErr *ssh.ExitError
		if result == nil || ctx.Err() != nil || errors.As(err, &exitErr) {
			return result, err
		}
		s.logger.Warn().Err(err).Str("output", result.Output).Msg("shutdown command returned error (may be expected)")
	}

	s.logger.Info().Str("output", result.Output).Msg("shutdown scheduled")
	return result, nil
}

// TestConnection verifies that the host accepts the key and runs commands.
func (s *Impl) TestConnection(ctx context.Context, cfg models.ShutdownConfig) (*models.SSHResult, error) {
	s.logger.Debug().Str("host", cfg.Host).Int("port", cfg.Port).Msg("testing SSH connection")
	return s.run(ctx, cfg, "echo OK")
}

// run executes cmd on the remote host. The result is non-nil once the
// command was started.
func (s *Impl) run(ctx context.Context, cfg models.ShutdownConfig, cmd string) (*models.SSHResult, error) {
	clientCfg, err := clientConfig(cfg)
	if err != nil {
		return nil, err
	}

	client, err := s.dial(ctx, net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), clientCfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer func() { _ = session.Close() }()

	s.logger.Debug().Str("command", cmd).Msg("executing remote command")

	output, err := session.CombinedOutput(cmd)
	result := &models.SSHResult{CommandRun: true, Output: string(output)}
	if err != nil {
		return result, fmt.Errorf("remote command %q failed: %w", cmd, err)
	}
	return result, nil
}

// dial honours ctx while ssh.Dial blocks on the handshake.
func (s *Impl) dial(ctx context.Context, addr string, cfg *ssh.ClientConfig) (Client, error) {
	type dialed struct {
		client Client
		err    error
	}
	ch := make(chan dialed, 1)
	go func() {
		c, err := s.dialer.Dial("tcp", addr, cfg)
		ch <- dialed{c, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if d := <-ch; d.client != nil {
				_ = d.client.Close()
			}
		}()
		return nil, ctx.Err()
	case d := <-ch:
		if d.err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", addr, d.err)
		}
		return d.client, nil
	}
}

func clientConfig(cfg models.ShutdownConfig) (*ssh.ClientConfig, error) {
	key := cfg.PrivateKey
	if len(key) == 0 {
		if cfg.KeyPath == "" {
			return nil, errors.New("no private key provided")
		}
		var err error
		key, err = os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key from %s: %w", cfg.KeyPath, err)
		}
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // hosts are on the local network
		Timeout:         dialTimeout,
	}, nil
}
