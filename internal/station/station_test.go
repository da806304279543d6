package station

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/ivigns/mipt-cis-networks/internal/ether"
	"github.com/ivigns/mipt-cis-networks/internal/trace"
)

// fakeMedium scripts the bus snapshot a station observes in one tick.
type fakeMedium struct {
	jammed   bool
	free     bool
	newStart bool
	frame    *ether.Frame
}

func (m *fakeMedium) IsJammed() bool           { return m.jammed }
func (m *fakeMedium) IsFree() bool             { return m.free }
func (m *fakeMedium) IsNewFrameStart() bool    { return m.newStart }
func (m *fakeMedium) FrameOnBus() *ether.Frame { return m.frame }

func newTestStation(t *testing.T, id int) (*Station, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	log := trace.New(&buf, func() time.Duration { return 0 }, 9)
	return New(id, 1, log), &buf
}

func mustFrame(t *testing.T, src, dst int, data string) *ether.Frame {
	t.Helper()
	f, err := ether.BuildFrame(ether.Payload{SrcID: src, DstID: dst, Data: []byte(data)})
	if err != nil {
		t.Fatalf("BuildFrame: %v", err)
	}
	return f
}

func TestIdleStationDoesNothing(t *testing.T) {
	s, buf := newTestStation(t, 0)
	if !s.IsIdle() {
		t.Fatal("fresh station should be idle")
	}
	if p := s.ProcessTick(&fakeMedium{free: true}); p != nil {
		t.Fatalf("idle station emitted %+v", p)
	}
	if buf.Len() != 0 {
		t.Fatalf("idle station logged %q", buf.String())
	}
}

func TestStartsSendingOnFreeBus(t *testing.T) {
	s, buf := newTestStation(t, 0)
	want := ether.Payload{SrcID: 0, DstID: 1, Data: []byte("hi")}
	s.AddPayload(want)
	p := s.ProcessTick(&fakeMedium{free: true})
	if p == nil {
		t.Fatal("expected an emission on a free bus")
	}
	if p.SrcID != want.SrcID || p.DstID != want.DstID || string(p.Data) != "hi" {
		t.Fatalf("emitted %+v, want %+v", p, want)
	}
	if !s.sending {
		t.Fatal("station should be in sending state")
	}
	if !strings.Contains(buf.String(), "start sending frame") {
		t.Fatalf("trace missing start event: %q", buf.String())
	}
}

func TestSleepsWhenBusBusy(t *testing.T) {
	s, _ := newTestStation(t, 0)
	s.AddPayload(ether.Payload{SrcID: 0, DstID: 1, Data: []byte("hi")})
	if p := s.ProcessTick(&fakeMedium{free: false}); p != nil {
		t.Fatalf("busy bus should not allow emission, got %+v", p)
	}
	if s.sleepTimer > 1 {
		t.Fatalf("sleep timer %d exceeds 2^0 bound", s.sleepTimer)
	}
	if s.sending {
		t.Fatal("station should not be sending")
	}
}

func TestSleepTimerSkipsSendAttempts(t *testing.T) {
	s, buf := newTestStation(t, 0)
	s.AddPayload(ether.Payload{SrcID: 0, DstID: 1, Data: []byte("hi")})
	s.sleepTimer = 2
	for i := 0; i < 2; i++ {
		if p := s.ProcessTick(&fakeMedium{free: true}); p != nil {
			t.Fatalf("sleeping station emitted on tick %d", i)
		}
	}
	if s.sleepTimer != 0 {
		t.Fatalf("sleep timer = %d after two ticks, want 0", s.sleepTimer)
	}
	if p := s.ProcessTick(&fakeMedium{free: true}); p == nil {
		t.Fatal("awake station should emit")
	}
	if !strings.Contains(buf.String(), "start sending frame") {
		t.Fatalf("trace missing start event: %q", buf.String())
	}
}

func TestJamTriggersRetryAndBackoff(t *testing.T) {
	s, buf := newTestStation(t, 0)
	s.AddPayload(ether.Payload{SrcID: 0, DstID: 1, Data: []byte("hi")})
	if p := s.ProcessTick(&fakeMedium{free: true}); p == nil {
		t.Fatal("expected emission")
	}
	if p := s.ProcessTick(&fakeMedium{jammed: true}); p != nil {
		t.Fatalf("jammed tick should not emit, got %+v", p)
	}
	if s.sending {
		t.Fatal("jam should cancel sending")
	}
	if s.retries != 1 {
		t.Fatalf("retries = %d, want 1", s.retries)
	}
	if s.sleepTimer > 2 {
		t.Fatalf("sleep timer %d exceeds 2^1 bound", s.sleepTimer)
	}
	if !strings.Contains(buf.String(), "retry count = 1") {
		t.Fatalf("trace missing retry event: %q", buf.String())
	}
	if len(s.queue) != 1 {
		t.Fatal("payload should stay queued for retry")
	}
}

func TestRetryExhaustionDropsPayload(t *testing.T) {
	s, buf := newTestStation(t, 0)
	s.AddPayload(ether.Payload{SrcID: 0, DstID: 1, Data: []byte("doomed")})
	for i := 1; i <= ether.MaxRetries+1; i++ {
		s.sending = true
		s.sleepTimer = 0
		s.ProcessTick(&fakeMedium{jammed: true})
	}
	if len(s.queue) != 0 {
		t.Fatalf("queue length = %d, want 0 after exhaustion", len(s.queue))
	}
	if s.retries != 0 {
		t.Fatalf("retries = %d, want reset to 0", s.retries)
	}
	out := buf.String()
	if !strings.Contains(out, "retry count = 16") {
		t.Fatalf("trace missing final retry event: %q", out)
	}
	if !strings.Contains(out, "max retries exceeded while sending frame") {
		t.Fatalf("trace missing exhaustion event: %q", out)
	}
	if !strings.Contains(out, "nothing left to send") {
		t.Fatalf("trace missing idle event: %q", out)
	}
	if !s.IsIdle() {
		t.Fatal("station should be idle after dropping its only payload")
	}
}

func TestFinishSendingOnFreeBus(t *testing.T) {
	s, buf := newTestStation(t, 0)
	s.AddPayload(ether.Payload{SrcID: 0, DstID: 1, Data: []byte("hi")})
	s.ProcessTick(&fakeMedium{free: true})
	// Frame in flight: hold.
	if p := s.ProcessTick(&fakeMedium{}); p != nil {
		t.Fatalf("in-flight tick should not emit, got %+v", p)
	}
	if !s.sending {
		t.Fatal("station should still be sending mid-flight")
	}
	// Bus free again: transmission complete.
	s.ProcessTick(&fakeMedium{free: true})
	out := buf.String()
	if !strings.Contains(out, "finish sending frame") {
		t.Fatalf("trace missing finish event: %q", out)
	}
	if !strings.Contains(out, "nothing left to send") {
		t.Fatalf("trace missing idle event: %q", out)
	}
	if !s.IsIdle() {
		t.Fatal("station should be idle after finishing its only payload")
	}
}

func TestReceiveLatchesOnNewFrameStart(t *testing.T) {
	s, buf := newTestStation(t, 1)
	f := mustFrame(t, 0, 1, "hi")
	s.ProcessTick(&fakeMedium{frame: f, newStart: true})
	if !s.receiving {
		t.Fatal("station should latch reception at frame start")
	}
	if !strings.Contains(buf.String(), "start receiving frame") {
		t.Fatalf("trace missing start receiving event: %q", buf.String())
	}
	// Mid-flight ticks hold the latch.
	s.ProcessTick(&fakeMedium{frame: f})
	if !s.receiving {
		t.Fatal("mid-flight tick should keep the latch")
	}
	// Frame finished.
	s.ProcessTick(&fakeMedium{frame: f, free: true})
	if s.receiving {
		t.Fatal("latch should clear after reception completes")
	}
	if !strings.Contains(buf.String(), "successfully received frame") {
		t.Fatalf("trace missing success event: %q", buf.String())
	}
}

func TestReceiveMissedFrame(t *testing.T) {
	s, buf := newTestStation(t, 1)
	f := mustFrame(t, 0, 1, "hi")
	// Station never saw the start tick; the frame finishes under it.
	s.ProcessTick(&fakeMedium{frame: f, free: true})
	if !strings.Contains(buf.String(), "!!! missed frame") {
		t.Fatalf("trace missing missed event: %q", buf.String())
	}
	if s.receiving {
		t.Fatal("missed frame must not leave the latch set")
	}
}

func TestJamInterruptsReception(t *testing.T) {
	s, buf := newTestStation(t, 1)
	s.ProcessTick(&fakeMedium{frame: mustFrame(t, 0, 1, "hi"), newStart: true})
	s.ProcessTick(&fakeMedium{jammed: true})
	if s.receiving {
		t.Fatal("jam should abort reception")
	}
	if !strings.Contains(buf.String(), "!!! frame receive interrupt") {
		t.Fatalf("trace missing interrupt event: %q", buf.String())
	}
}

func TestBroadcastReceivedByOthersNotSource(t *testing.T) {
	f := mustFrame(t, 0, ether.BroadcastID, "all")

	recv, _ := newTestStation(t, 2)
	recv.ProcessTick(&fakeMedium{frame: f, newStart: true})
	if !recv.receiving {
		t.Fatal("broadcast should latch other stations")
	}

	src, srcBuf := newTestStation(t, 0)
	src.ProcessTick(&fakeMedium{frame: f, newStart: true})
	if src.receiving {
		t.Fatal("source must not receive its own broadcast")
	}
	if srcBuf.Len() != 0 {
		t.Fatalf("source logged %q", srcBuf.String())
	}
}

func TestForeignFrameAbortsReception(t *testing.T) {
	s, buf := newTestStation(t, 1)
	s.ProcessTick(&fakeMedium{frame: mustFrame(t, 0, 1, "hi"), newStart: true})
	// A different frame for someone else shows up mid-reception.
	s.ProcessTick(&fakeMedium{frame: mustFrame(t, 0, 2, "other"), newStart: false})
	if s.receiving {
		t.Fatal("foreign frame should abort reception")
	}
	if !strings.Contains(buf.String(), "!!! frame receive interrupt") {
		t.Fatalf("trace missing interrupt event: %q", buf.String())
	}
}

func TestCorruptedFrameIsReportedAndIgnored(t *testing.T) {
	s, buf := newTestStation(t, 1)
	f := mustFrame(t, 0, 1, "hi")
	f[1522] ^= 0xFF
	s.ProcessTick(&fakeMedium{frame: f, newStart: true})
	if s.receiving {
		t.Fatal("corrupted frame must not latch reception")
	}
	if !strings.Contains(buf.String(), "!!! received corrupted frame") {
		t.Fatalf("trace missing corruption event: %q", buf.String())
	}
}

func TestBackoffBound(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seed := rapid.Uint64().Draw(t, "seed")
		retries := rapid.IntRange(0, 30).Draw(t, "retries")
		s := New(0, seed, trace.New(&bytes.Buffer{}, func() time.Duration { return 0 }, 0))
		s.retries = retries
		s.startSleep()
		bound := 1 << min(retries, ether.MaxSleepIncrease)
		if s.sleepTimer < 0 || s.sleepTimer > bound {
			t.Fatalf("sleep timer %d outside [0, %d] for retries=%d", s.sleepTimer, bound, retries)
		}
	})
}
