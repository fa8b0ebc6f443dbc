// Package websockettest provides small helpers for exercising WebSocket
// endpoints from tests.
package websockettest

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Dial connects to a test server's WebSocket endpoint, translating the
// httptest URL scheme, and closes the connection when the test ends.
func Dial(t *testing.T, serverURL, path string) *websocket.Conn {
	t.Helper()
	wsURL := strings.Replace(serverURL, "http://", "ws://", 1) + path
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// DialIgnoringPongs establishes a WebSocket connection and disables the
// automatic pong responses so that tests can simulate an unresponsive peer.
func DialIgnoringPongs(urlStr string, header http.Header) (*websocket.Conn, *http.Response, error) {
	conn, resp, err := websocket.DefaultDialer.Dial(urlStr, header)
	if err != nil {
		return nil, resp, err
	}
	conn.SetPingHandler(func(string) error { return nil })
	conn.SetPongHandler(func(string) error { return nil })
	return conn, resp, nil
}

// ReadNext returns the next text frame, failing the test on timeout.
func ReadNext(t *testing.T, conn *websocket.Conn, timeout time.Duration) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return payload
}

// WaitForAction keeps reading frames until one carries the wanted action tag,
// returning its raw payload. Unrelated frames in between are skipped.
func WaitForAction(t *testing.T, conn *websocket.Conn, action string, timeout time.Duration) []byte {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		payload := ReadNext(t, conn, time.Until(deadline))
		var envelope struct {
			Action string `json:"action"`
		}
		if err := json.Unmarshal(payload, &envelope); err != nil {
			continue
		}
		if envelope.Action == action {
			return payload
		}
	}
	t.Fatalf("no %q frame within %v", action, timeout)
	return nil
}
