package surface

import (
	"testing"
	"time"

	"github.com/kxpad/kxpad/pkg/bandplan"
	"github.com/kxpad/kxpad/pkg/state"
)

// fakeSurface collects rendered frames and feeds scripted button events.
type fakeSurface struct {
	events chan ButtonEvent
	frames []Frame
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{events: make(chan ButtonEvent, 16)}
}

func (f *fakeSurface) Events() <-chan ButtonEvent { return f.events }
func (f *fakeSurface) Render(fr Frame)            { f.frames = append(f.frames, fr) }

func (f *fakeSurface) press(b Button)   { f.events <- ButtonEvent{Button: b, Pressed: true} }
func (f *fakeSurface) release(b Button) { f.events <- ButtonEvent{Button: b, Pressed: false} }

func (f *fakeSurface) lastFrame(t *testing.T) Frame {
	t.Helper()
	if len(f.frames) == 0 {
		t.Fatal("no frame rendered")
	}
	return f.frames[len(f.frames)-1]
}

func newTestLoop(t *testing.T) (*Loop, *fakeSurface, *state.State) {
	t.Helper()
	sfc := newFakeSurface()
	st := state.New()
	l := New(sfc, st, DefaultRefresh)
	l.lastAmpSeen = time.Now()
	return l, sfc, st
}

func publishBand(t *testing.T, st *state.State, index int, ampConn, linkConn bool) {
	t.Helper()
	next := state.NewStatus()
	next.BandIndex = index
	next.BandName = bandplan.Name(index)
	next.AmpConnected = ampConn
	next.LinkConnected = linkConn
	if !st.Publish(next) {
		t.Fatal("publish failed")
	}
}

func TestScrollDecoupling(t *testing.T) {
	l, sfc, st := newTestLoop(t)
	now := time.Now()

	publishBand(t, st, 5, true, false)
	l.tick(now)

	t.Run("Pending Selection Survives Background Updates", func(t *testing.T) {
		sfc.press(ButtonUp)
		sfc.release(ButtonUp)
		l.tick(now)
		if l.bandCounter != 6 {
			t.Errorf("expected counter 6, got %d", l.bandCounter)
		}
		if !l.selecting {
			t.Error("expected selecting after scroll")
		}

		// Background publishes a different band mid-selection.
		publishBand(t, st, 4, true, false)
		l.tick(now.Add(TickInterval))
		if l.bandCounter != 6 {
			t.Errorf("selection overwritten by publish, counter %d", l.bandCounter)
		}
		frame := sfc.lastFrame(t)
		if frame.BandName != bandplan.Name(6) {
			t.Errorf("expected pending band %q shown, got %q", bandplan.Name(6), frame.BandName)
		}
		if !frame.Selecting {
			t.Error("expected frame marked selecting")
		}
	})

	t.Run("Counter Tracks Published Band When Idle", func(t *testing.T) {
		sfc.press(ButtonConfirm)
		sfc.release(ButtonConfirm)
		l.tick(now.Add(2 * TickInterval))
		if l.selecting {
			t.Error("expected selection finished after confirm")
		}

		st.TakeRequest()
		publishBand(t, st, 2, true, false)
		l.tick(now.Add(3 * TickInterval))
		if l.bandCounter != 2 {
			t.Errorf("expected counter to follow published band 2, got %d", l.bandCounter)
		}
	})
}

func TestConfirmEnqueuesSingleRequest(t *testing.T) {
	l, sfc, st := newTestLoop(t)
	now := time.Now()

	publishBand(t, st, 5, true, false)
	l.tick(now)

	sfc.press(ButtonUp)
	sfc.release(ButtonUp)
	sfc.press(ButtonConfirm)
	sfc.release(ButtonConfirm)
	l.tick(now.Add(TickInterval))

	target, pending, ok := st.TakeRequest()
	if !ok || !pending {
		t.Fatal("expected one pending request")
	}
	if target != 6 {
		t.Errorf("expected target 6, got %d", target)
	}

	if _, pending, _ := st.TakeRequest(); pending {
		t.Error("request delivered twice")
	}

	// Optimistic update shows the choice before the backend confirms.
	frame := sfc.lastFrame(t)
	if frame.BandName != bandplan.Name(6) {
		t.Errorf("expected optimistic band %q, got %q", bandplan.Name(6), frame.BandName)
	}
}

func TestButtonAutoRepeat(t *testing.T) {
	l, sfc, st := newTestLoop(t)
	base := time.Now()

	publishBand(t, st, 0, true, false)
	l.tick(base)

	sfc.press(ButtonUp)
	l.tick(base.Add(TickInterval))
	if l.bandCounter != 1 {
		t.Fatalf("expected one step on press, got %d", l.bandCounter)
	}

	t.Run("No Repeat Before Initial Delay", func(t *testing.T) {
		l.tick(base.Add(200 * time.Millisecond))
		if l.bandCounter != 1 {
			t.Errorf("repeated too early, counter %d", l.bandCounter)
		}
	})

	t.Run("Repeats After Initial Delay Then At Rate", func(t *testing.T) {
		l.tick(base.Add(TickInterval + RepeatInitialDelay + time.Millisecond))
		if l.bandCounter != 2 {
			t.Fatalf("expected repeat step, counter %d", l.bandCounter)
		}
		// Within the repeat interval: no step.
		l.tick(base.Add(TickInterval + RepeatInitialDelay + 100*time.Millisecond))
		if l.bandCounter != 2 {
			t.Errorf("repeated before rate elapsed, counter %d", l.bandCounter)
		}
		l.tick(base.Add(TickInterval + RepeatInitialDelay + RepeatRate + 2*time.Millisecond))
		if l.bandCounter != 3 {
			t.Errorf("expected second repeat step, counter %d", l.bandCounter)
		}
	})

	t.Run("Release Stops Repeat", func(t *testing.T) {
		sfc.release(ButtonUp)
		l.tick(base.Add(5 * time.Second))
		counter := l.bandCounter
		l.tick(base.Add(10 * time.Second))
		if l.bandCounter != counter {
			t.Errorf("stepped after release, counter %d", l.bandCounter)
		}
	})
}

func TestCounterClampedToTable(t *testing.T) {
	l, sfc, st := newTestLoop(t)
	now := time.Now()

	publishBand(t, st, bandplan.Count()-1, true, false)
	l.tick(now)

	sfc.press(ButtonUp)
	sfc.release(ButtonUp)
	l.tick(now.Add(TickInterval))
	if l.bandCounter != bandplan.Count()-1 {
		t.Errorf("scrolled past top of table, counter %d", l.bandCounter)
	}

	publishBand(t, st, 0, true, false)
	l.selecting = false
	l.tick(now.Add(2 * TickInterval))
	sfc.press(ButtonDown)
	sfc.release(ButtonDown)
	l.tick(now.Add(3 * TickInterval))
	if l.bandCounter != 0 {
		t.Errorf("scrolled below bottom of table, counter %d", l.bandCounter)
	}
}

func TestButtonsInertUnderCATControl(t *testing.T) {
	l, sfc, st := newTestLoop(t)
	now := time.Now()

	publishBand(t, st, 5, true, true)
	l.tick(now)

	sfc.press(ButtonUp)
	sfc.release(ButtonUp)
	sfc.press(ButtonConfirm)
	sfc.release(ButtonConfirm)
	l.tick(now.Add(TickInterval))

	if l.bandCounter != 5 {
		t.Errorf("scroll applied under CAT control, counter %d", l.bandCounter)
	}
	if _, pending, _ := st.TakeRequest(); pending {
		t.Error("confirm enqueued a request under CAT control")
	}
	if mode := sfc.lastFrame(t).ControlMode; mode != "CAT Control" {
		t.Errorf("expected CAT Control label, got %q", mode)
	}
}

func TestPowerOffTimers(t *testing.T) {
	l, sfc, st := newTestLoop(t)
	now := time.Now()

	// Amplifier gone: the disconnect clock starts running.
	publishBand(t, st, 5, false, false)

	t.Run("Warning After Threshold", func(t *testing.T) {
		l.lastAmpSeen = now.Add(-PowerOffWarning - time.Second)
		l.tick(now)
		frame := sfc.lastFrame(t)
		if !frame.PowerOffWarning {
			t.Error("expected power-off warning")
		}
		if frame.PowerOffDue {
			t.Error("power-off due too early")
		}
	})

	t.Run("Due After Timeout", func(t *testing.T) {
		l.lastAmpSeen = now.Add(-PowerOffDue - time.Second)
		l.renderNow = true
		l.tick(now)
		if !sfc.lastFrame(t).PowerOffDue {
			t.Error("expected power-off due")
		}
	})

	t.Run("Any Press Resets Timer", func(t *testing.T) {
		l.lastAmpSeen = now.Add(-PowerOffDue - time.Second)
		sfc.press(ButtonConfirm)
		sfc.release(ButtonConfirm)
		l.renderNow = true
		l.tick(now)
		frame := sfc.lastFrame(t)
		if frame.PowerOffWarning || frame.PowerOffDue {
			t.Error("press did not reset the power-off timer")
		}
	})

	t.Run("Reconnect Resets Timer", func(t *testing.T) {
		l.lastAmpSeen = now.Add(-PowerOffDue - time.Second)
		publishBand(t, st, 5, true, false)
		l.tick(now)
		frame := sfc.lastFrame(t)
		if frame.PowerOffWarning || frame.PowerOffDue {
			t.Error("reconnect did not reset the power-off timer")
		}
	})
}

func TestRenderCadence(t *testing.T) {
	l, sfc, st := newTestLoop(t)
	base := time.Now()

	publishBand(t, st, 5, true, false)
	l.tick(base)
	rendered := len(sfc.frames)
	if rendered == 0 {
		t.Fatal("expected initial render")
	}

	t.Run("Clean Snapshot Waits For Cadence", func(t *testing.T) {
		l.tick(base.Add(TickInterval))
		l.tick(base.Add(2 * TickInterval))
		if len(sfc.frames) != rendered {
			t.Errorf("rendered %d extra frames with nothing dirty", len(sfc.frames)-rendered)
		}
		l.tick(base.Add(DefaultRefresh + TickInterval))
		if len(sfc.frames) != rendered+1 {
			t.Error("expected cadence render after refresh interval")
		}
	})

	t.Run("Dirty Snapshot Renders Immediately", func(t *testing.T) {
		rendered = len(sfc.frames)
		publishBand(t, st, 7, true, false)
		l.tick(base.Add(DefaultRefresh + 2*TickInterval))
		if len(sfc.frames) != rendered+1 {
			t.Error("expected render on dirty snapshot")
		}
		if name := sfc.lastFrame(t).BandName; name != bandplan.Name(7) {
			t.Errorf("expected band %q, got %q", bandplan.Name(7), name)
		}
	})
}

func TestAntennaLabel(t *testing.T) {
	cases := []struct{ raw, want string }{
		{"^AN1;", "ANT1"},
		{"^AN1", "ANT1"},
		{"^AN2;", "ANT2"},
		{"^AN2", "ANT2"},
		{"--", "--"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := AntennaLabel(tc.raw); got != tc.want {
			t.Errorf("AntennaLabel(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestStartStop(t *testing.T) {
	l, _, st := newTestLoop(t)
	publishBand(t, st, 5, true, false)

	if err := l.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := l.Start(); err == nil {
		t.Error("expected error on double start")
	}
	time.Sleep(3 * TickInterval)
	l.Stop()
	l.Stop() // idempotent
}
