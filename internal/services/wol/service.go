// Package wol wakes a sleeping database host and waits for its MySQL port.
package wol

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/fgeck/mysqldumper/internal/models"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

// Service defines the interface for Wake-on-LAN operations.
type Service interface {
	Wake(ctx context.Context, cfg models.WOLConfig, target string) (*models.WOLResult, error)
}

// Client wraps the wol library for mocking.
type Client interface {
	Wake(broadcastIP string, mac net.HardwareAddr) error
}

// Dialer opens TCP connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DefaultClient sends magic packets with mdlayher/wol.
type DefaultClient struct{}

// Wake sends a magic packet to the discard port of broadcastIP.
func (c *DefaultClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return fmt.Errorf("invalid broadcast IP: %s", broadcastIP)
	}

	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.Wake(net.JoinHostPort(ip.String(), "9"), mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}
	return nil
}

// Impl implements the WOL Service interface.
type Impl struct {
	wolClient Client
	dialer    Dialer
	logger    zerolog.Logger
}

// New creates a new WOL service.
func New(logger zerolog.Logger) *Impl {
	return NewWithClients(logger, &DefaultClient{}, &net.Dialer{Timeout: 3 * time.Second})
}

// NewWithClients creates a new WOL service with custom clients (for testing).
func NewWithClients(logger zerolog.Logger, wolClient Client, dialer Dialer) *Impl {
	return &Impl{
		wolClient: wolClient,
		dialer:    dialer,
		logger:    logger,
	}
}

// Wake sends a magic packet and, when target is a host:port, waits until the
// port accepts TCP connections. The result is returned alongside any error so
// callers can tell whether the packet went out.
func (s *Impl) Wake(ctx context.Context, cfg models.WOLConfig, target string) (*models.WOLResult, error) {
	result := &models.WOLResult{}
	start := time.Now()

	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		return result, fmt.Errorf("invalid MAC address %q: %w", cfg.MACAddress, err)
	}

	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("broadcast", cfg.BroadcastIP).
		Msg("sending WOL packet")

	if err := s.wolClient.Wake(cfg.BroadcastIP, mac); err != nil {
		return result, err
	}
	result.PacketSent = true

	if target == "" {
		result.TargetReady = true
		result.WaitDuration = time.Since(start)
		return result, nil
	}

	s.logger.Info().
		Str("target", target).
		Dur("timeout", cfg.Timeout).
		Msg("waiting for MySQL port")

	if err := s.waitForPort(ctx, target, cfg.Timeout, cfg.PollInterval); err != nil {
		result.WaitDuration = time.Since(start)
		return result, err
	}

	if cfg.StabilizeWait > 0 {
		s.logger.Debug().Dur("wait", cfg.StabilizeWait).Msg("waiting for host to settle")
		select {
		case <-ctx.Done():
			result.WaitDuration = time.Since(start)
			return result, ctx.Err()
		case <-time.After(cfg.StabilizeWait):
		}
	}

	result.TargetReady = true
	result.WaitDuration = time.Since(start)

	s.logger.Info().Dur("duration", result.WaitDuration).Msg("database host is ready")

	return result, nil
}

func (s *Impl) waitForPort(ctx context.Context, target string, timeout, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.Now().Add(timeout)

	for {
		conn, err := s.dialer.DialContext(ctx, "tcp", target)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		s.logger.Debug().Err(err).Msg("MySQL port not reachable yet")

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().Add(interval).After(deadline) {
			return fmt.Errorf("timeout after %s waiting for %s: %w", timeout, target, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
