package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/fgeck/mysqldumper/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type mockSession struct {
	combinedOutputFunc func(cmd string) ([]byte, error)
	closed             bool
}

func (m *mockSession) CombinedOutput(cmd string) ([]byte, error) {
	if m.combinedOutputFunc != nil {
		return m.combinedOutputFunc(cmd)
	}
	return nil, nil
}

func (m *mockSession) Close() error {
	m.closed = true
	return nil
}

type mockClient struct {
	newSessionFunc func() (Session, error)
	closed         bool
}

func (m *mockClient) NewSession() (Session, error) {
	if m.newSessionFunc != nil {
		return m.newSessionFunc()
	}
	return &mockSession{}, nil
}

func (m *mockClient) Close() error {
	m.closed = true
	return nil
}

type mockDialer struct {
	dialFunc func(network, addr string, config *ssh.ClientConfig) (Client, error)
}

func (m *mockDialer) Dial(network, addr string, config *ssh.ClientConfig) (Client, error) {
	if m.dialFunc != nil {
		return m.dialFunc(network, addr, config)
	}
	return &mockClient{}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func generateTestKey(t *testing.T) []byte {
	t.Helper()
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(privateKey, "")
	require.NoError(t, err)
	return pem.EncodeToMemory(block)
}

func testConfig(t *testing.T) models.ShutdownConfig {
	return models.ShutdownConfig{
		Host:          "192.168.1.50",
		Port:          22,
		Username:      "backup",
		PrivateKey:    generateTestKey(t),
		ShutdownDelay: 1,
	}
}

// dialerRunning returns a dialer whose session answers every command with output and err.
func dialerRunning(captured *string, output string, err error) *mockDialer {
	return &mockDialer{
		dialFunc: func(string, string, *ssh.ClientConfig) (Client, error) {
			return &mockClient{
				newSessionFunc: func() (Session, error) {
					return &mockSession{
						combinedOutputFunc: func(cmd string) ([]byte, error) {
							if captured != nil {
								*captured = cmd
							}
							return []byte(output), err
						},
					}, nil
				},
			}, nil
		},
	}
}

func TestShutdownCommand(t *testing.T) {
	tests := []struct {
		name  string
		os    string
		delay int
		want  string
	}{
		{"linux delayed", "", 5, "sudo shutdown -h +5"},
		{"linux immediate", "linux", 0, "sudo shutdown -h now"},
		{"windows delayed", "windows", 2, "shutdown /s /t 120"},
		{"windows never immediate", "windows", 0, "shutdown /s /t 60"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := models.ShutdownConfig{OS: tt.os, ShutdownDelay: tt.delay}
			assert.Equal(t, tt.want, ShutdownCommand(cfg))
		})
	}
}

func TestShutdown_Success(t *testing.T) {
	var captured, gotAddr, gotUser string
	dialer := dialerRunning(&captured, "Shutdown scheduled", nil)
	inner := dialer.dialFunc
	dialer.dialFunc = func(network, addr string, config *ssh.ClientConfig) (Client, error) {
		gotAddr, gotUser = addr, config.User
		return inner(network, addr, config)
	}

	svc := NewWithDialer(testLogger(), dialer)
	result, err := svc.Shutdown(context.Background(), testConfig(t))

	require.NoError(t, err)
	assert.True(t, result.CommandRun)
	assert.Equal(t, "Shutdown scheduled", result.Output)
	assert.Equal(t, "sudo shutdown -h +1", captured)
	assert.Equal(t, "192.168.1.50:22", gotAddr)
	assert.Equal(t, "backup", gotUser)
}

func TestShutdown_ConnectionDroppedIsTolerated(t *testing.T) {
	dialer := dialerRunning(nil, "", &ssh.ExitMissingError{})

	svc := NewWithDialer(testLogger(), dialer)
	result, err := svc.Shutdown(context.Background(), testConfig(t))

	require.NoError(t, err)
	assert.True(t, result.CommandRun)
}

func TestShutdown_NonZeroExitFails(t *testing.T) {
	dialer := dialerRunning(nil, "sudo: a password is required", &ssh.ExitError{})

	svc := NewWithDialer(testLogger(), dialer)
	result, err := svc.Shutdown(context.Background(), testConfig(t))

	require.Error(t, err)
	require.NotNil(t, result)
	assert.Contains(t, result.Output, "password is required")
}

func TestShutdown_ConnectionFailed(t *testing.T) {
	dialer := &mockDialer{
		dialFunc: func(string, string, *ssh.ClientConfig) (Client, error) {
			return nil, errors.New("connection refused")
		},
	}

	svc := NewWithDialer(testLogger(), dialer)
	result, err := svc.Shutdown(context.Background(), testConfig(t))

	assert.Nil(t, result)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to 192.168.1.50:22")
}

func TestShutdown_SessionFailed(t *testing.T) {
	client := &mockClient{
		newSessionFunc: func() (Session, error) {
			return nil, errors.New("channel open failed")
		},
	}
	dialer := &mockDialer{
		dialFunc: func(string, string, *ssh.ClientConfig) (Client, error) { return client, nil },
	}

	svc := NewWithDialer(testLogger(), dialer)
	_, err := svc.Shutdown(context.Background(), testConfig(t))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create session")
	assert.True(t, client.closed)
}

func TestShutdown_NoPrivateKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.PrivateKey = nil

	svc := NewWithDialer(testLogger(), &mockDialer{})
	_, err := svc.Shutdown(context.Background(), cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no private key provided")
}

func TestShutdown_InvalidPrivateKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.PrivateKey = []byte("not a key")

	svc := NewWithDialer(testLogger(), &mockDialer{})
	_, err := svc.Shutdown(context.Background(), cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse private key")
}

func TestShutdown_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	dialer := &mockDialer{
		dialFunc: func(string, string, *ssh.ClientConfig) (Client, error) {
			<-release
			return &mockClient{}, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := NewWithDialer(testLogger(), dialer)
	_, err := svc.Shutdown(ctx, testConfig(t))

	assert.ErrorIs(t, err, context.Canceled)
}

func TestTestConnection_Success(t *testing.T) {
	var captured string
	svc := NewWithDialer(testLogger(), dialerRunning(&captured, "OK\n", nil))

	result, err := svc.TestConnection(context.Background(), testConfig(t))

	require.NoError(t, err)
	assert.Equal(t, "echo OK", captured)
	assert.Equal(t, "OK\n", result.Output)
}

func TestTestConnection_CommandFailed(t *testing.T) {
	svc := NewWithDialer(testLogger(), dialerRunning(nil, "", &ssh.ExitMissingError{}))

	_, err := svc.TestConnection(context.Background(), testConfig(t))

	assert.Error(t, err)
}

func TestClientConfig_WithKeyPath(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, generateTestKey(t), 0o600))

	cfg := testConfig(t)
	cfg.PrivateKey = nil
	cfg.KeyPath = keyPath

	clientCfg, err := clientConfig(cfg)

	require.NoError(t, err)
	assert.Equal(t, "backup", clientCfg.User)
	assert.Len(t, clientCfg.Auth, 1)
	assert.Equal(t, dialTimeout, clientCfg.Timeout)
}

func TestClientConfig_KeyPathNotFound(t *testing.T) {
	cfg := testConfig(t)
	cfg.PrivateKey = nil
	cfg.KeyPath = filepath.Join(t.TempDir(), "missing")

	_, err := clientConfig(cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read private key")
}
