package stateserver

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/chemonoworld/focusbridge/internal/focus"
	"github.com/chemonoworld/focusbridge/internal/logger"
)

func recvState(t *testing.T, ch <-chan focus.State) focus.State {
	t.Helper()
	select {
	case st := <-ch:
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state")
		return focus.State{}
	}
}

func TestStartFocus(t *testing.T) {
	hub := NewHub(HubOptions{})
	updates := hub.Subscribe()

	resp := hub.Apply(focus.StartFocusRequest([]string{"youtube.com"}, "pomodoro", 25))
	want := focus.State{
		IsActive:     true,
		BlockedURLs:  []string{"youtube.com"},
		TimerSeconds: 1500,
		TimerType:    "pomodoro",
	}
	if resp.Type != focus.ResponseState || !reflect.DeepEqual(resp.State, want) {
		t.Fatalf("reply = %+v, want State %+v", resp, want)
	}
	if got := recvState(t, updates); !reflect.DeepEqual(got, want) {
		t.Errorf("broadcast = %+v, want %+v", got, want)
	}

	cmd, ok := hub.TakePendingCommand()
	if !ok {
		t.Fatal("no pending command")
	}
	wantCmd := focus.ExtensionCommand{Command: "start", BlockedURLs: []string{"youtube.com"}, TimerType: "pomodoro", TimerDuration: 25}
	if !reflect.DeepEqual(cmd, wantCmd) {
		t.Errorf("command = %+v, want %+v", cmd, wantCmd)
	}
}

func TestStartFocusRejectsOverflowingTimer(t *testing.T) {
	hub := NewHub(HubOptions{})
	updates := hub.Subscribe()

	resp := hub.Apply(focus.StartFocusRequest([]string{"a.com"}, "timer", MaxTimerMinutes+1))
	if resp.Type != focus.ResponseError || resp.Message != "Invalid request: timer_duration too large" {
		t.Fatalf("reply = %+v", resp)
	}
	if got := hub.State(); !reflect.DeepEqual(got, focus.DefaultState()) {
		t.Errorf("state changed to %+v", got)
	}
	if _, ok := hub.TakePendingCommand(); ok {
		t.Error("rejected request queued a command")
	}
	if len(updates) != 0 {
		t.Errorf("rejected request broadcast %d states", len(updates))
	}

	resp = hub.Apply(focus.StartFocusRequest([]string{"a.com"}, "timer", MaxTimerMinutes))
	if resp.Type != focus.ResponseState || resp.State.TimerSeconds != MaxTimerMinutes*60 {
		t.Errorf("longest timer reply = %+v", resp)
	}
}

// lockCheckWriter records log writes made while the hub holds a lock.
type lockCheckWriter struct {
	hub    *Hub
	writes int
	held   int
}

func (w *lockCheckWriter) Write(p []byte) (int, error) {
	w.writes++
	if !w.hub.mu.TryLock() {
		w.held++
	} else {
		w.hub.mu.Unlock()
	}
	if !w.hub.cmdMu.TryLock() {
		w.held++
	} else {
		w.hub.cmdMu.Unlock()
	}
	return len(p), nil
}

func TestHubLogsOutsideLocks(t *testing.T) {
	hub := NewHub(HubOptions{BroadcastBuffer: 1})
	w := &lockCheckWriter{hub: hub}
	logger.Configure(w, "debug", false)
	t.Cleanup(func() { logger.Init("info", false) })

	hub.Subscribe()
	hub.Apply(focus.StartFocusRequest([]string{"a.com"}, "none", 0))
	hub.Apply(focus.UpdateBlockedURLsRequest([]string{"b.com"}))
	hub.UpdateState(focus.State{IsActive: true})
	hub.SetElapsed(5)
	hub.Apply(focus.StopFocusRequest())

	if w.writes == 0 {
		t.Fatal("no log lines written")
	}
	if w.held != 0 {
		t.Errorf("%d of %d log writes happened under a hub lock", w.held, w.writes)
	}
}

func TestStopFocusResetsState(t *testing.T) {
	hub := NewHub(HubOptions{})
	hub.Apply(focus.StartFocusRequest([]string{"a.com"}, "timer", 10))
	hub.UpdateState(focus.State{IsActive: true, BlockedURLs: []string{"a.com"}, ElapsedSeconds: 42, TimerSeconds: 600, TimerType: "timer"})

	resp := hub.Apply(focus.StopFocusRequest())
	if !reflect.DeepEqual(resp.State, focus.DefaultState()) {
		t.Errorf("state after stop = %+v", resp.State)
	}

	cmd, ok := hub.TakePendingCommand()
	if !ok || !reflect.DeepEqual(cmd, focus.StopCommand()) {
		t.Errorf("command = %+v (%v), want stop", cmd, ok)
	}
}

func TestUpdateBlockedURLsKeepsOtherFields(t *testing.T) {
	hub := NewHub(HubOptions{})
	hub.Apply(focus.StartFocusRequest([]string{"a.com"}, "pomodoro", 25))
	hub.TakePendingCommand()

	resp := hub.Apply(focus.UpdateBlockedURLsRequest([]string{"b.com", "c.com"}))
	want := focus.State{IsActive: true, BlockedURLs: []string{"b.com", "c.com"}, TimerSeconds: 1500, TimerType: "pomodoro"}
	if !reflect.DeepEqual(resp.State, want) {
		t.Errorf("state = %+v, want %+v", resp.State, want)
	}
	if _, ok := hub.TakePendingCommand(); ok {
		t.Error("UpdateBlockedUrls must not queue a command")
	}
}

func TestGetStateDoesNotBroadcast(t *testing.T) {
	hub := NewHub(HubOptions{})
	updates := hub.Subscribe()

	resp := hub.Apply(focus.GetStateRequest())
	if resp.Type != focus.ResponseState || resp.State.BlockedURLs == nil {
		t.Errorf("unexpected reply %+v", resp)
	}
	select {
	case st := <-updates:
		t.Errorf("unexpected broadcast %+v", st)
	default:
	}
}

func TestPendingCommandCoalesces(t *testing.T) {
	hub := NewHub(HubOptions{})

	if _, ok := hub.TakePendingCommand(); ok {
		t.Fatal("empty queue returned a command")
	}

	hub.Apply(focus.StartFocusRequest([]string{"a"}, "none", 0))
	hub.Apply(focus.StopFocusRequest())
	hub.Apply(focus.StartFocusRequest([]string{"c"}, "timer", 5))

	cmd, ok := hub.TakePendingCommand()
	if !ok || cmd.Command != "start" || cmd.BlockedURLs[0] != "c" {
		t.Errorf("drain returned %+v, want last start", cmd)
	}
	if _, ok := hub.TakePendingCommand(); ok {
		t.Error("second drain returned a command")
	}
}

func TestPendingLimitKeepsLatest(t *testing.T) {
	hub := NewHub(HubOptions{PendingLimit: 2})
	for i := 0; i < 5; i++ {
		hub.Apply(focus.StopFocusRequest())
	}
	hub.Apply(focus.StartFocusRequest([]string{"last"}, "none", 1))

	hub.cmdMu.Lock()
	n := len(hub.pending)
	hub.cmdMu.Unlock()
	if n != 2 {
		t.Errorf("pending length = %d, want 2", n)
	}
	cmd, ok := hub.TakePendingCommand()
	if !ok || cmd.BlockedURLs[0] != "last" {
		t.Errorf("drain returned %+v", cmd)
	}
}

func TestCommandListenerIsBestEffort(t *testing.T) {
	hub := NewHub(HubOptions{BroadcastBuffer: 1})
	cmds := hub.SubscribeCommands()

	hub.Apply(focus.StopFocusRequest())
	hub.Apply(focus.StartFocusRequest(nil, "none", 0)) // buffer full, dropped

	select {
	case cmd := <-cmds:
		if cmd.Command != "stop" {
			t.Errorf("first pushed command = %s", cmd.Command)
		}
	case <-time.After(time.Second):
		t.Fatal("command not pushed")
	}
	select {
	case cmd := <-cmds:
		t.Errorf("expected drop, got %+v", cmd)
	default:
	}

	// The queue still has the latest command even though the push was lost.
	if cmd, ok := hub.TakePendingCommand(); !ok || cmd.Command != "start" {
		t.Errorf("queue returned %+v", cmd)
	}

	hub.UnsubscribeCommands(cmds)
	if _, open := <-cmds; open {
		t.Error("command channel not closed")
	}
}

func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	hub := NewHub(HubOptions{BroadcastBuffer: 2})
	slow := hub.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Apply(focus.UpdateBlockedURLsRequest([]string{"x"}))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("mutations blocked on a slow subscriber")
	}
	if len(slow) != 2 {
		t.Errorf("slow subscriber holds %d values, want 2", len(slow))
	}
}

func TestConcurrentMutationsTotalOrder(t *testing.T) {
	hub := NewHub(HubOptions{BroadcastBuffer: 256})
	a := hub.Subscribe()
	b := hub.Subscribe()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				hub.Apply(focus.UpdateBlockedURLsRequest([]string{string(rune('a'+i)) + string(rune('a'+j))}))
			}
		}(i)
	}
	wg.Wait()

	if len(a) != 100 || len(b) != 100 {
		t.Fatalf("got %d and %d broadcasts, want 100 each", len(a), len(b))
	}
	for i := 0; i < 100; i++ {
		sa, sb := <-a, <-b
		if sa.BlockedURLs[0] != sb.BlockedURLs[0] {
			t.Fatalf("subscribers diverge at %d: %v vs %v", i, sa.BlockedURLs, sb.BlockedURLs)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	hub := NewHub(HubOptions{})
	ch := hub.Subscribe()
	if hub.Subscribers() != 1 {
		t.Fatalf("subscribers = %d", hub.Subscribers())
	}
	hub.Unsubscribe(ch)
	if hub.Subscribers() != 0 {
		t.Errorf("subscribers = %d after unsubscribe", hub.Subscribers())
	}
	if _, open := <-ch; open {
		t.Error("channel not closed")
	}
	hub.UpdateState(focus.DefaultState())
}

func TestStateIsCopied(t *testing.T) {
	hub := NewHub(HubOptions{})
	urls := []string{"a.com"}
	hub.Apply(focus.UpdateBlockedURLsRequest(urls))
	urls[0] = "mutated"

	st := hub.State()
	if st.BlockedURLs[0] != "a.com" {
		t.Error("hub aliases the request slice")
	}
	st.BlockedURLs[0] = "changed"
	if hub.State().BlockedURLs[0] != "a.com" {
		t.Error("State() exposes internal slice")
	}
}
