package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/crypto/ssh"
)

var (
	ErrSSHConnection     = errors.New("ssh: connection failed")
	ErrSSHAuthentication = errors.New("ssh: authentication failed")
	ErrSSHCommandFailed  = errors.New("ssh: command execution failed")
)

type SSHConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	PrivateKey string
	// Signer is used when neither a password nor a private key is set.
	Signer     ssh.Signer
	Timeout    time.Duration
	MaxRetries int
}

func (c SSHConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type SSHClient struct {
	config SSHConfig
}

func NewSSHClient(cfg SSHConfig) *SSHClient {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &SSHClient{config: cfg}
}

func (c *SSHClient) getAuthMethods() ([]ssh.AuthMethod, error) {
	var authMethods []ssh.AuthMethod

	if c.config.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(c.config.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid private key", ErrSSHAuthentication)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	if c.config.Password != "" {
		authMethods = append(authMethods, ssh.Password(c.config.Password))
	}

	if len(authMethods) == 0 && c.config.Signer != nil {
		authMethods = append(authMethods, ssh.PublicKeys(c.config.Signer))
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("%w: no credentials provided", ErrSSHAuthentication)
	}

	return authMethods, nil
}

// ConnectWithRetry dials the device with exponential backoff. Credential
// problems fail immediately; network errors are retried up to MaxRetries
// times or until ctx is done.
func (c *SSHClient) ConnectWithRetry(ctx context.Context) (*ssh.Client, error) {
	authMethods, err := c.getAuthMethods()
	if err != nil {
		return nil, err
	}

	sshConfig := &ssh.ClientConfig{
		User:            c.config.User,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.config.Timeout,
	}

	addr := c.config.Address()
	var client *ssh.Client

	operation := func() error {
		dialer := net.Dialer{
			Timeout:   c.config.Timeout,
			KeepAlive: 60 * time.Second,
		}

		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		// Bound the handshake, then clear the deadline for long transfers.
		conn.SetDeadline(time.Now().Add(c.config.Timeout))

		cc, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
		if err != nil {
			conn.Close()
			return err
		}
		conn.SetDeadline(time.Time{})

		client = ssh.NewClient(cc, chans, reqs)
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	expBackoff.MaxElapsedTime = 2 * time.Minute
	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, uint64(c.config.MaxRetries)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSSHConnection, addr, err)
	}
	return client, nil
}

// Execute runs cmd in a new session on client and returns its stdout. A
// non-zero exit is reported as ErrSSHCommandFailed alongside the output.
func (c *SSHClient) Execute(ctx context.Context, client *ssh.Client, cmd string) (string, error) {
	stdout, stderr, err := run(ctx, client, cmd)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: command cancelled", ctx.Err())
		}
		errMsg := stderr
		if errMsg == "" {
			errMsg = err.Error()
		}
		return stdout, fmt.Errorf("%w: %s", ErrSSHCommandFailed, errMsg)
	}
	return stdout, nil
}

func run(ctx context.Context, client *ssh.Client, cmd string) (string, string, error) {
	out, errOut, err := runBytes(ctx, client, cmd)
	return string(out), string(errOut), err
}

func runBytes(ctx context.Context, client *ssh.Client, cmd string) ([]byte, []byte, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to create session", ErrSSHConnection)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		session.Close()
		return nil, nil, ctx.Err()
	case err := <-done:
		return stdout.Bytes(), stderr.Bytes(), err
	}
}
