package ldap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/sirupsen/logrus"
)

// searchConn is the slice of *ldap.Conn a bound session uses.
type searchConn interface {
	Search(*ldap.SearchRequest) (*ldap.SearchResult, error)
	Unbind() error
}

// Conn is a single authenticated directory session. A session is acquired
// once per sync run with Connect and must be released exactly once with
// Close, on every exit path.
type Conn struct {
	conn searchConn
	cfg  *Config
	log  *logrus.Entry
}

// Connect dials the configured directory server and authenticates. The
// dial and bind are retried with exponential backoff on retryable errors;
// a final failure is reported as a ConnectionError.
func Connect(ctx context.Context, cfg *Config, log *logrus.Entry) (*Conn, error) {
	if cfg == nil {
		return nil, NewConnectionError("directory configuration is required", false, nil)
	}
	if cfg.URI == "" {
		return nil, NewConnectionError("directory URI is required", false, nil)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}

	c := &Conn{cfg: cfg, log: log}

	err := withRetry(ctx, cfg, log, func() error {
		conn, err := c.dial()
		if err != nil {
			return err
		}

		if err := c.bind(ctx, conn); err != nil {
			conn.Close()
			return err
		}

		c.conn = conn
		return nil
	})
	if err != nil {
		log.WithError(err).Error("cannot connect to directory server")
		return nil, NewConnectionError("cannot connect to directory server", false, err)
	}

	log.WithFields(logrus.Fields{
		"uri":         cfg.URI,
		"auth_method": cfg.AuthMethod().String(),
	}).Debug("directory session established")

	return c, nil
}

// Close releases the session. Safe to call once per successful Connect.
func (c *Conn) Close() {
	if c.conn != nil {
		_ = c.conn.Unbind()
		c.conn = nil
	}
}

// dial opens the raw connection, applying timeout and TLS settings.
func (c *Conn) dial() (*ldap.Conn, error) {
	dialer := &net.Dialer{Timeout: c.cfg.Timeout}

	opts := []ldap.DialOpt{ldap.DialWithDialer(dialer)}
	if c.cfg.InsecureSkipVerify {
		opts = append(opts, ldap.DialWithTLSConfig(&tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: true,
		}))
	}

	conn, err := ldap.DialURL(c.cfg.URI, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URI, err)
	}

	conn.SetTimeout(c.cfg.Timeout)

	if c.cfg.StartTLS {
		tlsCfg := &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: c.cfg.InsecureSkipVerify,
		}
		if host, err := hostFromURI(c.cfg.URI); err == nil {
			tlsCfg.ServerName = host
		}
		if err := conn.StartTLS(tlsCfg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
	}

	return conn, nil
}

// bind authenticates the connection based on the configured method.
func (c *Conn) bind(ctx context.Context, conn *ldap.Conn) error {
	method := c.cfg.AuthMethod()

	c.log.WithField("auth_method", method.String()).Debug("authenticating")

	switch method {
	case AuthMethodKerberos:
		host, err := hostFromURI(c.cfg.URI)
		if err != nil {
			return fmt.Errorf("kerberos bind: %w", err)
		}
		return kerberosBind(conn, c.cfg, host)
	default:
		// Anonymous bind is allowed when no bind DN is configured.
		if c.cfg.BindDN == "" {
			return conn.UnauthenticatedBind("")
		}
		return conn.Bind(c.cfg.BindDN, c.cfg.BindPassword)
	}
}

// withRetry executes an operation with exponential backoff on retryable
// errors.
func withRetry(ctx context.Context, cfg *Config, log *logrus.Entry, operation func() error) error {
	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			log.WithFields(logrus.Fields{
				"attempt":    attempt,
				"backoff_ms": backoff.Milliseconds(),
				"last_error": lastErr.Error(),
			}).Debug("retrying directory operation")
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err

		if !IsRetryableError(err) {
			return err
		}

		if attempt == cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff = min(time.Duration(float64(backoff)*cfg.BackoffFactor), cfg.MaxBackoff)
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}

// hostFromURI extracts the hostname from an LDAP URL.
func hostFromURI(uri string) (string, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid LDAP URL %q: %w", uri, err)
	}

	host := parsed.Hostname()
	if host == "" {
		return "", fmt.Errorf("no hostname in LDAP URL %q", uri)
	}

	return host, nil
}
