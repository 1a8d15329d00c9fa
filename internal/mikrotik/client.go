// internal/mikrotik/client.go
package mikrotik

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	xerrors "netbill-service/internal/pkg/errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-routeros/routeros/v3"
	"go.uber.org/zap"
)

type Config struct {
	Host               string
	Port               int
	TLS                bool
	TLSPort            int
	InsecureSkipVerify bool
	User               string
	Pass               string
	Timeout            time.Duration
	Attempts           int
	Delay              time.Duration
}

func (c Config) Address() string {
	port := c.Port
	if c.TLS {
		port = c.TLSPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// MaxCallDuration bounds one gateway call with every retry: each attempt may spend
// Timeout dialing and Timeout waiting for the reply, and the randomized backoff
// between attempts never exceeds 1.5 times its 4*Delay cap.
func (c Config) MaxCallDuration() time.Duration {
	c = normalize(c)
	retries := time.Duration(c.Attempts - 1)
	return time.Duration(c.Attempts)*2*c.Timeout + retries*6*c.Delay
}

// CallObserver receives one observation per router API call.
type CallObserver interface {
	ObserveRouterCall(command string, err error, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveRouterCall(string, error, time.Duration) {}

// session is the subset of *routeros.Client the gateway needs.
type session interface {
	Run(sentence ...string) (*routeros.Reply, error)
	Close()
}

type routerosSession struct {
	c *routeros.Client
}

func (s routerosSession) Run(sentence ...string) (*routeros.Reply, error) {
	return s.c.Run(sentence...)
}

func (s routerosSession) Close() {
	s.c.Close()
}

type dialFunc func(ctx context.Context) (session, error)

// Client talks to one RouterOS device over the binary API. Calls are serialized
// on a single connection which is re-established after transport failures.
type Client struct {
	cfg      Config
	dial     dialFunc
	logger   *zap.Logger
	observer CallObserver

	mu   sync.Mutex
	sess session
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	c := &Client{
		cfg:      normalize(cfg),
		logger:   logger,
		observer: nopObserver{},
	}
	c.dial = c.dialRouterOS
	return c
}

// WithObserver attaches a metrics observer.
func (c *Client) WithObserver(o CallObserver) *Client {
	if o != nil {
		c.observer = o
	}
	return c
}

func normalize(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8728
	}
	if cfg.TLSPort == 0 {
		cfg.TLSPort = 8729
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 1500 * time.Millisecond
	}
	return cfg
}

func (c *Client) dialRouterOS(ctx context.Context) (session, error) {
	addr := c.cfg.Address()
	var (
		rc  *routeros.Client
		err error
	)
	if c.cfg.TLS {
		tlsCfg := &tls.Config{InsecureSkipVerify: c.cfg.InsecureSkipVerify, ServerName: c.cfg.Host}
		rc, err = routeros.DialTLSTimeout(addr, c.cfg.User, c.cfg.Pass, tlsCfg, c.cfg.Timeout)
	} else {
		rc, err = routeros.DialTimeout(addr, c.cfg.User, c.cfg.Pass, c.cfg.Timeout)
	}
	if err != nil {
		return nil, err
	}
	c.logger.Info("connected to router", zap.String("address", addr), zap.Bool("tls", c.cfg.TLS))
	return routerosSession{c: rc}, nil
}

// Ping checks connectivity and credentials.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.run(ctx, "/system/identity/print")
	return err
}

// Close drops the current connection. The client reconnects on next use.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

// run executes one API sentence with per-call timeout and retries on transient failures.
func (c *Client) run(ctx context.Context, sentence ...string) (*routeros.Reply, error) {
	var reply *routeros.Reply
	attempt := 0

	operation := func() error {
		attempt++
		start := time.Now()
		r, err := c.runOnce(ctx, sentence...)
		c.observer.ObserveRouterCall(sentence[0], err, time.Since(start))
		if err == nil {
			reply = r
			return nil
		}
		if ctx.Err() != nil || !errors.Is(err, xerrors.ErrRouterUnavailable) {
			return backoff.Permanent(err)
		}
		c.logger.Warn("router call failed",
			zap.String("command", sentence[0]),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.Attempts),
			zap.Error(err),
		)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.Delay
	b.MaxInterval = 4 * c.cfg.Delay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.Attempts-1)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) runOnce(ctx context.Context, sentence ...string) (*routeros.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrRouterUnavailable, err)
	}

	if c.sess == nil {
		s, err := c.dial(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: connect %s: %v", xerrors.ErrRouterUnavailable, c.cfg.Address(), err)
		}
		c.sess = s
	}

	type result struct {
		reply *routeros.Reply
		err   error
	}
	done := make(chan result, 1)
	sess := c.sess
	go func() {
		r, err := sess.Run(sentence...)
		done <- result{reply: r, err: err}
	}()

	timer := time.NewTimer(c.cfg.Timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			err := classify(res.err)
			if errors.Is(err, xerrors.ErrRouterUnavailable) {
				c.resetLocked()
			}
			return nil, err
		}
		return res.reply, nil
	case <-timer.C:
		c.resetLocked()
		return nil, fmt.Errorf("%w: %s timed out after %s", xerrors.ErrRouterUnavailable, sentence[0], c.cfg.Timeout)
	case <-ctx.Done():
		c.resetLocked()
		return nil, fmt.Errorf("%w: %s: %v", xerrors.ErrRouterUnavailable, sentence[0], ctx.Err())
	}
}

func (c *Client) resetLocked() {
	if c.sess != nil {
		c.sess.Close()
		c.sess = nil
	}
}

// classify maps a RouterOS error onto the gateway error taxonomy.
// Device traps are never retried; anything else is a transport problem.
func classify(err error) error {
	var devErr *routeros.DeviceError
	if errors.As(err, &devErr) {
		msg := deviceMessage(devErr)
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "no such item") || strings.Contains(lower, "no such object") {
			return fmt.Errorf("%w: %s", xerrors.ErrRouterNotFound, msg)
		}
		return fmt.Errorf("%w: %s", xerrors.ErrRouterConflict, msg)
	}
	return fmt.Errorf("%w: %v", xerrors.ErrRouterUnavailable, err)
}

func deviceMessage(err *routeros.DeviceError) string {
	if err.Sentence != nil {
		if msg, ok := err.Sentence.Map["message"]; ok {
			return msg
		}
	}
	return err.Error()
}

func isAlreadyExists(err error) bool {
	return errors.Is(err, xerrors.ErrRouterConflict) &&
		strings.Contains(strings.ToLower(err.Error()), "already")
}
