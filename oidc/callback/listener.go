package callback

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rrogntudju/userinfos/oidc"
)

// DefaultTimeout is how long a Listener waits for the browser redirect
// before giving up on the attempt.
const DefaultTimeout = 150 * time.Second

// DefaultPollInterval bounds how quickly a Listener observes cancellation
// while waiting for a connection.
const DefaultPollInterval = 100 * time.Millisecond

// Listener captures exactly one authorization-code redirect on a loopback
// address and then stops listening. It is single-use: the first accepted
// connection decides the attempt's outcome, for better or worse, and a
// Listener must not be reused for a second attempt.
type Listener struct {
	addr         string
	pending      *oidc.Request
	timeout      time.Duration
	pollInterval time.Duration
	successFn    SuccessResponseFunc
	errorFn      ErrorResponseFunc
}

// NewListener creates a Listener for the loopback port agreed with the
// provider's registered redirect URI, bound to the given pending
// authorization attempt.
//
// Supported options: WithTimeout, WithPollInterval, WithSuccessResponseFunc,
// WithErrorResponseFunc
func NewListener(port int, pending *oidc.Request, opt ...Option) (*Listener, error) {
	const op = "callback.NewListener"
	if pending == nil {
		return nil, fmt.Errorf("%s: pending authorization is nil: %w", op, oidc.ErrNilParameter)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%s: port %d is invalid: %w", op, port, oidc.ErrInvalidParameter)
	}
	opts := getListenerOpts(opt...)
	return &Listener{
		addr:         fmt.Sprintf("127.0.0.1:%d", port),
		pending:      pending,
		timeout:      opts.withTimeout,
		pollInterval: opts.withPollInterval,
		successFn:    opts.withSuccessFn,
		errorFn:      opts.withErrorFn,
	}, nil
}

// Listen binds the loopback socket and waits for the redirect carrying the
// authorization code and the echoed state. It returns the code on success.
//
// Failure modes: a state that does not byte-equal the issued CSRF token fails
// with oidc.ErrCSRFMismatch and no code is consumed; a callback without a
// code fails with oidc.ErrMissingAuthorizationCode; no callback before the
// timeout fails with oidc.ErrAuthorizationTimedOut; canceling ctx (for
// example when opening the browser failed) is observed within one poll
// interval and fails with ctx's error. The socket is closed before Listen
// returns, whatever the outcome.
func (l *Listener) Listen(ctx context.Context) (string, error) {
	const op = "callback.Listener.Listen"
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return "", fmt.Errorf("%s: unable to bind %s: %w", op, l.addr, err)
	}
	defer ln.Close()
	tcpLn := ln.(*net.TCPListener)

	deadline := time.Now().Add(l.timeout)
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%s: canceled while waiting for the callback: %w", op, ctx.Err())
		default:
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%s: no callback received within %s: %w", op, l.timeout, oidc.ErrAuthorizationTimedOut)
		}
		if err := tcpLn.SetDeadline(time.Now().Add(l.pollInterval)); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		conn, err := tcpLn.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return "", fmt.Errorf("%s: accept failed: %w", op, err)
		}
		return l.handle(conn)
	}
}

// handle processes the one accepted connection: parse the request target as a
// URL relative to http://localhost and validate its code and state query
// parameters against the pending attempt.
func (l *Listener) handle(conn net.Conn) (string, error) {
	const op = "callback.Listener.handle"
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	requestLine, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("%s: unable to read the callback request line: %w", op, err)
	}
	fields := strings.Fields(requestLine)
	if len(fields) < 2 {
		l.write(conn, http.StatusBadRequest, l.errorFn(oidc.ErrInvalidParameter))
		return "", fmt.Errorf("%s: malformed callback request line: %w", op, oidc.ErrInvalidParameter)
	}
	u, err := url.Parse("http://localhost" + fields[1])
	if err != nil {
		l.write(conn, http.StatusBadRequest, l.errorFn(oidc.ErrInvalidParameter))
		return "", fmt.Errorf("%s: unable to parse the callback target %q: %w", op, fields[1], oidc.ErrInvalidParameter)
	}
	query := u.Query()

	// Security-critical rejection: an absent or unexpected state means the
	// callback does not correspond to this attempt, and any code it carries
	// must not be consumed.
	if !l.pending.MatchesState(query.Get("state")) {
		l.write(conn, http.StatusForbidden, l.errorFn(oidc.ErrCSRFMismatch))
		return "", fmt.Errorf("%s: %w", op, oidc.ErrCSRFMismatch)
	}
	code := query.Get("code")
	if code == "" {
		l.write(conn, http.StatusBadRequest, l.errorFn(oidc.ErrMissingAuthorizationCode))
		return "", fmt.Errorf("%s: %w", op, oidc.ErrMissingAuthorizationCode)
	}
	l.write(conn, http.StatusOK, l.successFn())
	return code, nil
}

func (l *Listener) write(conn net.Conn, statusCode int, body []byte) {
	fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\nContent-Type: text/html; charset=utf-8\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		statusCode, http.StatusText(statusCode), len(body))
	_, _ = conn.Write(body)
}
