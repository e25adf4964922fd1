package listctl

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_CoalescesBurst(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	var calls atomic.Int32
	var last atomic.Value

	for _, v := range []string{"h", "ha", "hai", "hair"} {
		v := v
		d.Trigger(func() {
			calls.Add(1)
			last.Store(v)
		})
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("calls = %d, want 1", n)
	}
	if got := last.Load(); got != "hair" {
		t.Errorf("last = %v, want hair", got)
	}
	if d.Pending() {
		t.Error("Pending() = true after firing")
	}
}

func TestDebouncer_Cancel(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	var calls atomic.Int32
	d.Trigger(func() { calls.Add(1) })

	if !d.Pending() {
		t.Fatal("Pending() = false, want true")
	}
	if !d.Cancel() {
		t.Error("Cancel() = false, want true")
	}
	if d.Cancel() {
		t.Error("second Cancel() = true, want false")
	}

	time.Sleep(60 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Errorf("calls = %d, want 0", n)
	}
}

func TestDebouncer_StopRefusesTriggers(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	var calls atomic.Int32
	d.Trigger(func() { calls.Add(1) })
	d.Stop()
	d.Trigger(func() { calls.Add(1) })

	time.Sleep(50 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Errorf("calls = %d, want 0", n)
	}
	if d.Pending() {
		t.Error("Pending() = true after Stop")
	}
}

func TestDebouncer_SeparateWindows(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	var calls atomic.Int32
	d.Trigger(func() { calls.Add(1) })
	time.Sleep(50 * time.Millisecond)
	d.Trigger(func() { calls.Add(1) })
	time.Sleep(50 * time.Millisecond)

	if n := calls.Load(); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}
