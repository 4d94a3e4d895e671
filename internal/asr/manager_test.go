package asr

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func rtasrConfig() Config {
	return Config{Mode: ModeRTASR, AppID: "app", APISecret: "secret", RetryCooldown: 5 * time.Second}
}

func TestManager_QueuedAudioFlushedInOrder(t *testing.T) {
	d := &fakeDialer{gate: make(chan struct{})}
	m := NewManager(rtasrConfig(), d, nil)
	defer m.Close()

	if st := m.Ensure("R1"); st != StateConnecting {
		t.Fatalf("expected connecting, got %s", st)
	}
	for i := 1; i <= 5; i++ {
		if !m.SubmitAudio("R1", []byte{byte(i)}, false) {
			t.Fatalf("chunk %d not accepted while connecting", i)
		}
	}
	close(d.gate)
	waitFor(t, "dial", func() bool { return d.Conn(0) != nil })
	conn := d.Conn(0)

	if n := len(conn.Writes()); n != 0 {
		t.Fatalf("audio written before started: %d frames", n)
	}
	conn.in <- []byte(`{"action":"started","code":"0"}`)
	waitFor(t, "flush", func() bool { return len(conn.Writes()) == 5 })

	m.SubmitAudio("R1", []byte{6}, true)
	waitFor(t, "live frames", func() bool { return len(conn.Writes()) == 7 })

	w := conn.Writes()
	for i := 0; i < 6; i++ {
		if w[i].typ != websocket.BinaryMessage || len(w[i].data) != 1 || w[i].data[0] != byte(i+1) {
			t.Fatalf("frame %d out of order: %+v", i, w[i])
		}
	}
	if string(w[6].data) != `{"end": true}` {
		t.Fatalf("expected end marker, got %q", w[6].data)
	}
	if m.State("R1") != StateReady {
		t.Fatalf("expected ready, got %s", m.State("R1"))
	}
}

func TestManager_ConcurrentSubmitDuringReadyKeepsEveryChunkOnce(t *testing.T) {
	d := &fakeDialer{gate: make(chan struct{})}
	m := NewManager(rtasrConfig(), d, nil)
	defer m.Close()

	m.Ensure("R1")
	for i := 0; i < 50; i++ {
		m.SubmitAudio("R1", []byte{byte(i)}, false)
	}
	close(d.gate)
	waitFor(t, "dial", func() bool { return d.Conn(0) != nil })
	conn := d.Conn(0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 50; i < 100; i++ {
			m.SubmitAudio("R1", []byte{byte(i)}, false)
		}
	}()
	conn.in <- []byte(`{"action":"started"}`)
	wg.Wait()
	waitFor(t, "all frames", func() bool { return len(conn.Writes()) == 100 })

	seen := map[byte]int{}
	for i, w := range conn.Writes() {
		seen[w.data[0]]++
		if i < 50 && w.data[0] != byte(i) {
			t.Fatalf("queued frame %d out of order: %d", i, w.data[0])
		}
	}
	for i := 0; i < 100; i++ {
		if seen[byte(i)] != 1 {
			t.Fatalf("chunk %d delivered %d times", i, seen[byte(i)])
		}
	}
}

func TestManager_DisabledDropsAudio(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(Config{Mode: ModeRTASR, AppID: "app"}, d, nil)
	defer m.Close()

	if m.Enabled() {
		t.Fatalf("expected disabled without secret")
	}
	if st := m.Ensure("R1"); st != StateDisabled {
		t.Fatalf("expected disabled, got %s", st)
	}
	if m.SubmitAudio("R1", []byte{1}, false) {
		t.Fatalf("audio accepted while disabled")
	}
	if d.Calls() != 0 {
		t.Fatalf("dialer used while disabled")
	}
}

func TestManager_ConnectFailureCoolDown(t *testing.T) {
	d := &fakeDialer{err: errors.New("401 unauthorized")}
	m := NewManager(rtasrConfig(), d, nil)
	defer m.Close()

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	m.SetClock(func() time.Time { mu.Lock(); defer mu.Unlock(); return now })

	m.Ensure("R1")
	waitFor(t, "session removed", func() bool { return m.State("R1") == StateAbsent })

	if m.SubmitAudio("R1", []byte{1}, false) {
		t.Fatalf("audio accepted during cool-down")
	}
	if d.Calls() != 1 {
		t.Fatalf("expected a single dial during cool-down, got %d", d.Calls())
	}

	mu.Lock()
	now = now.Add(6 * time.Second)
	mu.Unlock()
	m.SubmitAudio("R1", []byte{2}, false)
	waitFor(t, "retry dial", func() bool { return d.Calls() == 2 })
}

func TestManager_StopClosesUpstream(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(rtasrConfig(), d, nil)
	defer m.Close()

	m.Ensure("R1")
	waitFor(t, "dial", func() bool { return d.Conn(0) != nil })

	m.Stop("R1")
	if m.State("R1") != StateAbsent {
		t.Fatalf("expected absent after stop, got %s", m.State("R1"))
	}
	waitFor(t, "conn closed", func() bool { return d.Conn(0).isClosed() })

	// ensure again opens a fresh session
	m.Ensure("R1")
	waitFor(t, "second dial", func() bool { return d.Calls() == 2 })
}

func TestManager_ResultsReachCallback(t *testing.T) {
	d := &fakeDialer{}
	results := make(chan Result, 4)
	m := NewManager(rtasrConfig(), d, func(roomID string, r Result) {
		if roomID == "R1" {
			results <- r
		}
	})
	defer m.Close()

	m.Ensure("R1")
	waitFor(t, "dial", func() bool { return d.Conn(0) != nil })

	inner := `{"cn":{"st":{"rt":[{"ws":[{"cw":[{"w":"你好"}]},{"cw":[{"w":"世界"}]}]}],"type":"0"}}}`
	outer, _ := json.Marshal(map[string]string{"action": "result", "code": "0", "data": inner})
	d.Conn(0).in <- outer

	select {
	case r := <-results:
		if r.Text != "你好世界" || !r.IsFinal {
			t.Fatalf("unexpected result: %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no result delivered")
	}
}

func TestManager_UpstreamCloseRemovesSession(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(rtasrConfig(), d, nil)
	defer m.Close()

	m.Ensure("R1")
	waitFor(t, "dial", func() bool { return d.Conn(0) != nil })
	_ = d.Conn(0).Close()
	waitFor(t, "session removed", func() bool { return m.State("R1") == StateAbsent })
}

func TestManager_IATReadyOnOpen(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(Config{Mode: ModeIAT, AppID: "app", APIKey: "key", APISecret: "secret"}, d, nil)
	defer m.Close()

	m.Ensure("R1")
	waitFor(t, "ready", func() bool { return m.State("R1") == StateReady })
	m.SubmitAudio("R1", []byte("pcm-1"), false)
	m.SubmitAudio("R1", []byte("pcm-2"), true)

	conn := d.Conn(0)
	waitFor(t, "frames", func() bool { return len(conn.Writes()) == 3 })

	var first iatFirstFrame
	if err := json.Unmarshal(conn.Writes()[0].data, &first); err != nil {
		t.Fatal(err)
	}
	if first.Common.AppID != "app" || first.Data.Status != 0 || first.Business.VADEOS != 3000 {
		t.Fatalf("unexpected first frame: %+v", first)
	}

	for i, want := range []struct {
		status int
		audio  string
	}{{1, "pcm-1"}, {2, "pcm-2"}} {
		var f iatAudioFrame
		if err := json.Unmarshal(conn.Writes()[i+1].data, &f); err != nil {
			t.Fatal(err)
		}
		raw, _ := base64.StdEncoding.DecodeString(f.Data.Audio)
		if f.Data.Status != want.status || string(raw) != want.audio {
			t.Fatalf("frame %d: got status=%d audio=%q", i+1, f.Data.Status, raw)
		}
	}
}

func TestManager_OneSessionPerRoom(t *testing.T) {
	d := &fakeDialer{gate: make(chan struct{})}
	m := NewManager(rtasrConfig(), d, nil)
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Ensure("R1")
			m.Ensure(fmt.Sprintf("R%d", 2+i%2))
		}(i)
	}
	wg.Wait()
	close(d.gate)
	waitFor(t, "dials", func() bool { return d.Calls() == 3 })
}

func TestManager_StalledUpstreamWriteTimesOut(t *testing.T) {
	d := &fakeDialer{}
	cfg := rtasrConfig()
	cfg.WriteTimeout = 50 * time.Millisecond
	m := NewManager(cfg, d, nil)
	defer m.Close()

	m.Ensure("R1")
	waitFor(t, "dial", func() bool { return d.Conn(0) != nil })
	conn := d.Conn(0)
	conn.in <- []byte(`{"action":"started","code":"0"}`)
	waitFor(t, "ready", func() bool { return m.State("R1") == StateReady })

	if !m.SubmitAudio("R1", []byte{1}, false) {
		t.Fatalf("live chunk rejected")
	}
	if conn.Deadlines() == 0 {
		t.Fatalf("write issued without a deadline")
	}

	conn.stall()
	done := make(chan bool, 1)
	go func() { done <- m.SubmitAudio("R1", []byte{2}, false) }()
	time.Sleep(10 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		m.Stop("R1")
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("stop blocked behind a stalled write")
	}

	select {
	case ok := <-done:
		if ok {
			t.Fatalf("write to a stalled upstream reported success")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("write to a stalled upstream never returned")
	}
	if m.State("R1") != StateAbsent {
		t.Fatalf("expected absent, got %s", m.State("R1"))
	}
}

func TestSession_FullQueueDropsAndCounts(t *testing.T) {
	s := newSession("R1", &RTASR{AppID: "app", APISecret: "secret"}, 2, time.Second)

	for i := 0; i < 2; i++ {
		if ok, err := s.submit([]byte{byte(i)}, false); !ok || err != nil {
			t.Fatalf("chunk %d refused: ok=%v err=%v", i, ok, err)
		}
	}
	for i := 0; i < 3; i++ {
		if ok, err := s.submit([]byte{9}, false); ok || err != nil {
			t.Fatalf("chunk beyond the bound accepted: ok=%v err=%v", ok, err)
		}
	}
	if s.Dropped() != 3 {
		t.Fatalf("expected 3 dropped, got %d", s.Dropped())
	}

	conn := newFakeConn()
	if alive, err := s.attach(conn); !alive || err != nil {
		t.Fatalf("attach: alive=%v err=%v", alive, err)
	}
	if err := s.markReady(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	w := conn.Writes()
	if len(w) != 2 || w[0].data[0] != 0 || w[1].data[0] != 1 {
		t.Fatalf("queued chunks not flushed in order: %+v", w)
	}
}
