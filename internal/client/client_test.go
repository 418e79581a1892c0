package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chemonoworld/focusbridge/internal/focus"
	"github.com/chemonoworld/focusbridge/internal/stateserver"
)

// fakeServer is the far end of a net.Pipe driven line by line from the test.
type fakeServer struct {
	conn net.Conn
	r    *bufio.Reader
}

func newPair(t *testing.T) (*Conn, *fakeServer) {
	t.Helper()
	a, b := net.Pipe()
	c := New(a)
	t.Cleanup(func() {
		c.Close()
		b.Close()
	})
	return c, &fakeServer{conn: b, r: bufio.NewReader(b)}
}

func (s *fakeServer) readLine(t *testing.T) string {
	t.Helper()
	_ = s.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := s.r.ReadString('\n')
	if err != nil {
		t.Errorf("server read: %v", err)
	}
	return strings.TrimSpace(line)
}

func (s *fakeServer) writeLine(t *testing.T, line string) {
	t.Helper()
	_ = s.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := s.conn.Write([]byte(line + "\n")); err != nil {
		t.Errorf("server write: %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	c, srv := newPair(t)

	go func() {
		got := srv.readLine(t)
		if got != `{"type":"StopFocus"}` {
			t.Errorf("server got %s", got)
		}
		srv.writeLine(t, `{"type":"State","payload":{"isActive":false,"blockedUrls":[],"elapsedSeconds":0,"timerSeconds":0,"timerType":""}}`)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.RoundTrip(ctx, focus.StopFocusRequest())
	if err != nil {
		t.Fatalf("RoundTrip() error: %v", err)
	}
	if resp.Type != focus.ResponseState || resp.State.IsActive {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestRoundTripDiscardsEarlierBroadcasts(t *testing.T) {
	c, srv := newPair(t)

	srv.writeLine(t, `{"type":"State","payload":{"isActive":true,"blockedUrls":["stale.com"],"elapsedSeconds":0,"timerSeconds":0,"timerType":""}}`)
	deadline := time.Now().Add(2 * time.Second)
	for len(c.results) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("broadcast never buffered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	go func() {
		srv.readLine(t)
		srv.writeLine(t, `{"type":"Error","payload":{"message":"fresh"}}`)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.RoundTrip(ctx, focus.GetStateRequest())
	if err != nil {
		t.Fatalf("RoundTrip() error: %v", err)
	}
	if resp.Type != focus.ResponseError || resp.Message != "fresh" {
		t.Errorf("got stale response %+v", resp)
	}
}

func TestRoundTripSettlesTrailingBroadcast(t *testing.T) {
	c, srv := newPair(t)

	go func() {
		srv.readLine(t)
		state := `{"type":"State","payload":{"isActive":true,"blockedUrls":["a.com"],"elapsedSeconds":0,"timerSeconds":0,"timerType":"none"}}`
		srv.writeLine(t, state)
		// The broadcast of the same mutation follows its reply.
		srv.writeLine(t, state)

		srv.readLine(t)
		srv.writeLine(t, `{"type":"State","payload":{"isActive":true,"blockedUrls":["b.com"],"elapsedSeconds":0,"timerSeconds":0,"timerType":"none"}}`)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, err := c.RoundTrip(ctx, focus.StartFocusRequest([]string{"a.com"}, "none", 0))
	if err != nil || first.State.BlockedURLs[0] != "a.com" {
		t.Fatalf("first = %+v, %v", first, err)
	}
	second, err := c.RoundTrip(ctx, focus.UpdateBlockedURLsRequest([]string{"b.com"}))
	if err != nil || second.State.BlockedURLs[0] != "b.com" {
		t.Fatalf("second = %+v, %v", second, err)
	}
}

func TestBackToBackMutationsAgainstServer(t *testing.T) {
	dir, err := os.MkdirTemp("/tmp", "fbclient")
	if err != nil {
		t.Fatalf("MkdirTemp() error: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	path := filepath.Join(dir, "s.sock")

	srv := stateserver.NewServer(stateserver.NewHub(stateserver.HubOptions{}), path)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := Dial(ctx, path)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer c.Close()

	for i := 0; i < 20; i++ {
		update := fmt.Sprintf("update%d.com", i)

		resp, err := c.RoundTrip(ctx, focus.StartFocusRequest([]string{"start.com"}, "none", 0))
		if err != nil || resp.Type != focus.ResponseState || resp.State.BlockedURLs[0] != "start.com" {
			t.Fatalf("round %d: start = %+v, %v", i, resp, err)
		}
		resp, err = c.RoundTrip(ctx, focus.UpdateBlockedURLsRequest([]string{update}))
		if err != nil || resp.Type != focus.ResponseState || resp.State.BlockedURLs[0] != update {
			t.Fatalf("round %d: update = %+v, %v", i, resp, err)
		}
	}
}

func TestRoundTripTimeout(t *testing.T) {
	c, srv := newPair(t)
	go srv.readLine(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.RoundTrip(ctx, focus.GetStateRequest())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("timeout took %v", time.Since(start))
	}
}

func TestReceiveDisconnect(t *testing.T) {
	c, srv := newPair(t)
	srv.conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.Receive(ctx)
	if !IsDisconnect(err) {
		t.Fatalf("expected disconnect, got %v", err)
	}
	if _, err := c.Receive(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("second receive: expected ErrClosed, got %v", err)
	}
}

func TestReceiveMalformedLine(t *testing.T) {
	c, srv := newPair(t)
	go srv.writeLine(t, `not json`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.Receive(ctx)
	if err == nil || !strings.Contains(err.Error(), "decode response") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestSendAfterClose(t *testing.T) {
	c, _ := newPair(t)
	c.Close()
	if err := c.Send(context.Background(), focus.GetStateRequest()); err == nil {
		t.Fatal("expected error sending on closed connection")
	}
}
