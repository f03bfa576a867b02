package oauth

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrStateMismatch   = errors.New("callback state mismatch")
	ErrParamNotFound   = errors.New("callback parameter not found")
	ErrCallbackTimeout = errors.New("timed out waiting for authorization callback")
)

// A redirect URL fits comfortably; anything longer is truncated.
const maxCallbackRequest = 8 << 10

const (
	successPage = `<!doctype html><html><head><meta charset="utf-8"><title>clawtray</title></head>` +
		`<body><h1>Success</h1><p>You are signed in. You can close this tab.</p></body></html>`
	failurePage = `<!doctype html><html><head><meta charset="utf-8"><title>clawtray</title></head>` +
		`<body><h1>Sign-in failed</h1><p>Return to clawtray and try again.</p></body></html>`
)

// CallbackListener is a single-use local endpoint for the authorization
// redirect. It must be bound before the browser is sent to the provider.
type CallbackListener struct {
	ln  net.Listener
	log zerolog.Logger
}

func ListenCallback(addr string, log zerolog.Logger) (*CallbackListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for callback on %s: %w", addr, err)
	}
	log.Trace().Str("addr", ln.Addr().String()).Msg("callback listener bound")
	return &CallbackListener{ln: ln, log: log}, nil
}

func (l *CallbackListener) Addr() net.Addr { return l.ln.Addr() }

func (l *CallbackListener) Close() error { return l.ln.Close() }

// Await accepts exactly one connection and returns the authorization code it
// carries. The listener is closed when Await returns, whatever the outcome.
func (l *CallbackListener) Await(ctx context.Context, expectedState string, timeout time.Duration) (string, error) {
	defer l.ln.Close()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type accepted struct {
		conn net.Conn
		err  error
	}
	ch := make(chan accepted, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- accepted{conn, err}
	}()

	select {
	case <-ctx.Done():
		l.ln.Close()
		go func() {
			if a := <-ch; a.conn != nil {
				a.conn.Close()
			}
		}()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %w", ErrCallbackTimeout, ctx.Err())
		}
		return "", ctx.Err()
	case a := <-ch:
		if a.err != nil {
			return "", fmt.Errorf("accept callback: %w", a.err)
		}
		defer a.conn.Close()
		if deadline, ok := ctx.Deadline(); ok {
			_ = a.conn.SetDeadline(deadline)
		}
		return l.serve(a.conn, expectedState)
	}
}

func (l *CallbackListener) serve(conn net.Conn, expectedState string) (string, error) {
	r := bufio.NewReader(io.LimitReader(conn, maxCallbackRequest))
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read callback request: %w", err)
	}

	code, err := parseCallback(line, expectedState)
	if err != nil {
		l.log.Warn().Err(err).Msg("rejected authorization callback")
		writePage(conn, "400 Bad Request", failurePage)
		return "", err
	}
	writePage(conn, "200 OK", successPage)
	return code, nil
}

// parseCallback extracts state and code from an HTTP request line such as
// "GET /callback?code=abc&state=xyz HTTP/1.1". The state is checked before
// the code is looked at.
func parseCallback(requestLine, expectedState string) (string, error) {
	fields := strings.Fields(requestLine)
	if len(fields) < 2 {
		return "", fmt.Errorf("%w: malformed request line", ErrParamNotFound)
	}
	target, err := url.ParseRequestURI(fields[1])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrParamNotFound, err)
	}
	q := target.Query()

	state := q.Get("state")
	if state == "" {
		return "", fmt.Errorf("%w: state", ErrParamNotFound)
	}
	if subtle.ConstantTimeCompare([]byte(state), []byte(expectedState)) != 1 {
		return "", ErrStateMismatch
	}

	code := q.Get("code")
	if code == "" {
		if providerErr := q.Get("error"); providerErr != "" {
			return "", fmt.Errorf("%w: code (provider returned %q)", ErrParamNotFound, providerErr)
		}
		return "", fmt.Errorf("%w: code", ErrParamNotFound)
	}
	return code, nil
}

func writePage(w io.Writer, status, body string) {
	fmt.Fprintf(w, "HTTP/1.1 %s\r\nContent-Type: text/html; charset=utf-8\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		status, len(body), body)
}

// AwaitCallback binds addr and waits for one authorization callback.
func AwaitCallback(ctx context.Context, addr, expectedState string, timeout time.Duration, log zerolog.Logger) (string, error) {
	l, err := ListenCallback(addr, log)
	if err != nil {
		return "", err
	}
	return l.Await(ctx, expectedState, timeout)
}
