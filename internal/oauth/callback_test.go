package oauth

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type callbackResult struct {
	code string
	err  error
}

func startListener(t *testing.T, expectedState string, timeout time.Duration) (string, <-chan callbackResult) {
	t.Helper()
	l, err := ListenCallback("127.0.0.1:0", zerolog.Nop())
	if err != nil {
		t.Fatalf("ListenCallback() error = %v", err)
	}
	out := make(chan callbackResult, 1)
	go func() {
		code, err := l.Await(context.Background(), expectedState, timeout)
		out <- callbackResult{code, err}
	}()
	return l.Addr().String(), out
}

func sendRequest(t *testing.T, addr, request string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.WriteString(conn, request); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp, _ := io.ReadAll(conn)
	return string(resp)
}

func wait(t *testing.T, ch <-chan callbackResult) callbackResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("Await() did not return")
		return callbackResult{}
	}
}

func TestAwaitCallbackReturnsCode(t *testing.T) {
	addr, out := startListener(t, "S1", 5*time.Second)
	resp := sendRequest(t, addr, "GET /callback?state=S1&code=C1 HTTP/1.1\r\nHost: localhost\r\n\r\n")

	r := wait(t, out)
	if r.err != nil {
		t.Fatalf("Await() error = %v", r.err)
	}
	if r.code != "C1" {
		t.Fatalf("code = %q, want C1", r.code)
	}
	if !strings.HasPrefix(resp, "HTTP/1.1 200 OK") || !strings.Contains(resp, "Success") {
		t.Fatalf("response = %q", resp)
	}
}

func TestAwaitCallbackStateMismatch(t *testing.T) {
	addr, out := startListener(t, "S2", 5*time.Second)
	resp := sendRequest(t, addr, "GET /callback?state=S1&code=C1 HTTP/1.1\r\n\r\n")

	r := wait(t, out)
	if !errors.Is(r.err, ErrStateMismatch) {
		t.Fatalf("Await() error = %v, want ErrStateMismatch", r.err)
	}
	if r.code != "" {
		t.Fatalf("code = %q, want empty", r.code)
	}
	if !strings.HasPrefix(resp, "HTTP/1.1 400") {
		t.Fatalf("response = %q", resp)
	}
}

func TestAwaitCallbackMissingParams(t *testing.T) {
	tests := map[string]string{
		"no code":        "GET /callback?state=S1 HTTP/1.1\r\n\r\n",
		"no state":       "GET /callback?code=C1 HTTP/1.1\r\n\r\n",
		"provider error": "GET /callback?state=S1&error=access_denied HTTP/1.1\r\n\r\n",
		"garbage":        "hello\r\n",
	}
	for name, request := range tests {
		t.Run(name, func(t *testing.T) {
			addr, out := startListener(t, "S1", 5*time.Second)
			sendRequest(t, addr, request)
			r := wait(t, out)
			if !errors.Is(r.err, ErrParamNotFound) {
				t.Fatalf("Await() error = %v, want ErrParamNotFound", r.err)
			}
		})
	}
}

func TestAwaitCallbackTimeoutReleasesPort(t *testing.T) {
	l, err := ListenCallback("127.0.0.1:0", zerolog.Nop())
	if err != nil {
		t.Fatalf("ListenCallback() error = %v", err)
	}
	addr := l.Addr().String()

	_, err = l.Await(context.Background(), "S1", 50*time.Millisecond)
	if !errors.Is(err, ErrCallbackTimeout) {
		t.Fatalf("Await() error = %v, want ErrCallbackTimeout", err)
	}

	again, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("port still held after timeout: %v", err)
	}
	again.Close()
}

func TestAwaitCallbackIsSingleUse(t *testing.T) {
	addr, out := startListener(t, "S1", 5*time.Second)
	sendRequest(t, addr, "GET /callback?state=S1&code=C1 HTTP/1.1\r\n\r\n")
	wait(t, out)

	conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err == nil {
		conn.Close()
		t.Fatal("listener still accepting after first callback")
	}
}

func TestParseCallbackChecksStateFirst(t *testing.T) {
	_, err := parseCallback("GET /callback?state=other HTTP/1.1", "S1")
	if !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("parseCallback() error = %v, want ErrStateMismatch", err)
	}
	code, err := parseCallback("GET /callback?code=a%2Fb&state=S1 HTTP/1.1", "S1")
	if err != nil || code != "a/b" {
		t.Fatalf("parseCallback() = %q, %v", code, err)
	}
}
