package remote

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/devault/backend/internal/config"
	"github.com/devault/backend/internal/core/ports"
	"github.com/devault/backend/internal/infrastructure/logger"
	"golang.org/x/crypto/ssh"
	"golang.org/x/time/rate"
)

const probeTimeout = 2 * time.Second

// SignerFunc supplies the fallback key for endpoints without credentials.
type SignerFunc func() (ssh.Signer, error)

type TransportConfig struct {
	Endpoints  []config.DeviceEndpoint
	Timeout    time.Duration
	MaxRetries int
	// ShellRate limits shell commands per second on one device; zero means
	// unlimited.
	ShellRate  float64
	ShellBurst int
	Signer     SignerFunc
	Logger     *logger.Logger
}

// Transport reaches handsets over ssh. Endpoints are tried in configured
// order and the first reachable one is the current device.
type Transport struct {
	cfg TransportConfig
	log *logger.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ ports.DeviceTransport = (*Transport)(nil)

func NewTransport(cfg TransportConfig) *Transport {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.ShellBurst <= 0 {
		cfg.ShellBurst = 1
	}
	return &Transport{
		cfg:      cfg,
		log:      cfg.Logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

func serialOf(ep config.DeviceEndpoint) string {
	if ep.Serial != "" {
		return ep.Serial
	}
	port := ep.Port
	if port == 0 {
		port = 22
	}
	return SSHConfig{Host: ep.Host, Port: port}.Address()
}

// ListDevices returns the serials of endpoints accepting connections.
func (t *Transport) ListDevices(ctx context.Context) ([]string, error) {
	var serials []string
	for _, ep := range t.cfg.Endpoints {
		if t.reachable(ctx, ep) {
			serials = append(serials, serialOf(ep))
		}
	}
	return serials, nil
}

// Current opens a session on the first reachable endpoint.
func (t *Transport) Current(ctx context.Context) (ports.Device, error) {
	for _, ep := range t.cfg.Endpoints {
		if !t.reachable(ctx, ep) {
			continue
		}
		dev, err := t.open(ctx, ep)
		if err != nil {
			t.log.Warnw("device_connect_failed", "serial", serialOf(ep), "error", err)
			continue
		}
		return dev, nil
	}
	return nil, ports.ErrNoDevice
}

func (t *Transport) reachable(ctx context.Context, ep config.DeviceEndpoint) bool {
	dialer := net.Dialer{Timeout: probeTimeout}
	port := ep.Port
	if port == 0 {
		port = 22
	}
	conn, err := dialer.DialContext(ctx, "tcp", SSHConfig{Host: ep.Host, Port: port}.Address())
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (t *Transport) open(ctx context.Context, ep config.DeviceEndpoint) (*sshDevice, error) {
	sshCfg := SSHConfig{
		Host:       ep.Host,
		Port:       ep.Port,
		User:       ep.User,
		Password:   ep.Password,
		PrivateKey: ep.PrivateKey,
		Timeout:    t.cfg.Timeout,
		MaxRetries: t.cfg.MaxRetries,
	}
	if ep.Password == "" && ep.PrivateKey == "" && t.cfg.Signer != nil {
		signer, err := t.cfg.Signer()
		if err != nil {
			return nil, err
		}
		sshCfg.Signer = signer
	}

	exec := NewSSHClient(sshCfg)
	client, err := exec.ConnectWithRetry(ctx)
	if err != nil {
		return nil, err
	}

	serial := serialOf(ep)
	t.log.Infow("device_session_opened", "serial", serial)
	return &sshDevice{
		serial:  serial,
		exec:    exec,
		client:  client,
		limiter: t.limiter(serial),
		log:     t.log,
	}, nil
}

func (t *Transport) limiter(serial string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[serial]
	if !ok {
		limit := rate.Inf
		if t.cfg.ShellRate > 0 {
			limit = rate.Limit(t.cfg.ShellRate)
		}
		l = rate.NewLimiter(limit, t.cfg.ShellBurst)
		t.limiters[serial] = l
	}
	return l
}
