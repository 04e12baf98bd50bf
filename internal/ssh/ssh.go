// Package ssh wraps golang.org/x/crypto/ssh for talking to a cluster head
// node: run commands with retries, move files over SFTP, manage keys and
// known_hosts.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	xssh "golang.org/x/crypto/ssh"
)

type Dialer interface {
	Dial(network, addr string) (net.Conn, error)
}

type NetDialer struct{ Timeout time.Duration }

func (d NetDialer) Dial(network, addr string) (net.Conn, error) {
	nd := &net.Dialer{Timeout: d.Timeout}
	return nd.Dial(network, addr)
}

// Client describes one head-node connection. Zero Retries means a single
// attempt; Backoff grows linearly per attempt.
type Client struct {
	Addr       string
	User       string
	Signer     xssh.Signer
	KnownHosts xssh.HostKeyCallback
	Timeout    time.Duration
	Retries    int
	Backoff    time.Duration
	Dialer     Dialer
}

func (c *Client) makeConfig() (*xssh.ClientConfig, error) {
	if c.Signer == nil {
		return nil, errors.New("ssh: signer required")
	}
	if c.KnownHosts == nil {
		return nil, errors.New("ssh: known hosts callback required")
	}
	return &xssh.ClientConfig{
		User:            c.User,
		Auth:            []xssh.AuthMethod{xssh.PublicKeys(c.Signer)},
		HostKeyCallback: c.KnownHosts,
		Timeout:         c.Timeout,
	}, nil
}

// dial opens one SSH connection, through c.Dialer when set.
func (c *Client) dial(cfg *xssh.ClientConfig) (*xssh.Client, error) {
	if c.Dialer == nil {
		return xssh.Dial("tcp", c.Addr, cfg)
	}
	conn, err := c.Dialer.Dial("tcp", c.Addr)
	if err != nil {
		return nil, err
	}
	cc, chans, reqs, err := xssh.NewClientConn(conn, c.Addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return xssh.NewClient(cc, chans, reqs), nil
}

// RunCommand executes a remote command, retrying transport failures with
// linear backoff. A command that ran and exited non-zero is not retried;
// its combined output is returned alongside the error so callers can log
// scheduler diagnostics.
func (c *Client) RunCommand(ctx context.Context, command string) (string, error) {
	cfg, err := c.makeConfig()
	if err != nil {
		return "", err
	}
	retries := c.Retries
	if retries < 0 {
		retries = 0
	}
	backoff := c.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		cli, err := c.dial(cfg)
		if err != nil {
			lastErr = fmt.Errorf("dial %s: %w", c.Addr, err)
		} else {
			session, err := cli.NewSession()
			if err != nil {
				lastErr = fmt.Errorf("new session: %w", err)
			} else {
				out, err := session.CombinedOutput(command)
				session.Close()
				_ = cli.Close()
				if err != nil {
					return string(out), fmt.Errorf("remote command %q: %w", command, err)
				}
				return string(out), nil
			}
			_ = cli.Close()
		}
		if attempt < retries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff * time.Duration(attempt+1)):
			}
		}
	}
	return "", lastErr
}

// Dial establishes an SSH connection. The caller closes the returned
// client.
func Dial(ctx context.Context, c *Client) (*xssh.Client, error) {
	cfg, err := c.makeConfig()
	if err != nil {
		return nil, err
	}
	type res struct {
		cli *xssh.Client
		err error
	}
	ch := make(chan res, 1)
	go func() {
		cli, err := c.dial(cfg)
		ch <- res{cli: cli, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.cli, r.err
	}
}
