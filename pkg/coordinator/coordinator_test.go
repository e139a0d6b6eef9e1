package coordinator

import (
	"testing"
	"time"

	"github.com/kxpad/kxpad/pkg/amp"
	"github.com/kxpad/kxpad/pkg/bandplan"
	"github.com/kxpad/kxpad/pkg/state"
)

// fakeLink is a scripted CAT link
type fakeLink struct {
	connected bool
	frequency uint64
	haveFreq  bool
	polls     int
	fetches   int
}

func (l *fakeLink) Poll() { l.polls++ }

func (l *fakeLink) IsConnected() bool { return l.connected }

func (l *fakeLink) FetchFrequency(timeout time.Duration) (uint64, bool) {
	l.fetches++
	return l.frequency, l.haveFreq
}

func newTestCoordinator(l *fakeLink, a amp.Client) (*Coordinator, *state.State) {
	st := state.New()
	c := New(l, a, st, 200*time.Millisecond, 100*time.Millisecond)
	c.currentBand = DefaultBand
	return c, st
}

func TestManualRequestPriority(t *testing.T) {
	// Link disconnected, amplifier on 20m; the operator scrolls three bands
	// up and confirms. The backend must apply the request and must not let
	// frequency tracking override it this cycle.
	mock := amp.NewMockAmp()
	link := &fakeLink{connected: false}
	c, st := newTestCoordinator(link, mock)

	target := DefaultBand + 3
	if !st.RequestBand(target, bandplan.Name(target)) {
		t.Fatal("request not enqueued")
	}

	c.cycle()

	if mock.Band() != target {
		t.Errorf("expected amplifier on band %d, got %d", target, mock.Band())
	}

	status, dirty, ok := st.Snapshot()
	if !ok {
		t.Fatal("snapshot failed")
	}
	if status.BandIndex != target {
		t.Errorf("expected published band %d, got %d", target, status.BandIndex)
	}
	if status.BandName != bandplan.Name(target) {
		t.Errorf("expected band name %s, got %s", bandplan.Name(target), status.BandName)
	}
	if !dirty.Has(state.FieldBand) {
		t.Error("expected band marked dirty")
	}
	if link.fetches != 0 {
		t.Error("frequency must not be fetched while honoring a manual request")
	}

	// The request is consumed; the next cycle must not re-apply it
	calls := mock.SetBandCalls()
	c.cycle()
	if mock.SetBandCalls() != calls {
		t.Error("manual request applied twice")
	}
}

func TestManualRequestSkipsBandReadback(t *testing.T) {
	mock := amp.NewMockAmp()
	link := &fakeLink{}
	c, st := newTestCoordinator(link, mock)

	st.RequestBand(8, "12m")
	st.Snapshot()

	c.cycle()

	if c.currentBand != 8 {
		t.Errorf("expected current band 8 after manual switch, got %d", c.currentBand)
	}
}

func TestFrequencyTracking(t *testing.T) {
	t.Run("Applies Band For New Frequency", func(t *testing.T) {
		mock := amp.NewMockAmp()
		link := &fakeLink{connected: true, frequency: 21100000, haveFreq: true} // 15m
		c, st := newTestCoordinator(link, mock)

		c.cycle()

		if mock.Band() != 7 {
			t.Errorf("expected amplifier on 15m (7), got %d", mock.Band())
		}
		status, _, _ := st.Snapshot()
		if status.BandIndex != 7 || status.BandName != "15m" {
			t.Errorf("expected published 15m, got %+v", status)
		}
		if !status.LinkConnected {
			t.Error("expected link connected in snapshot")
		}
	})

	t.Run("Same Band Is Left Alone", func(t *testing.T) {
		mock := amp.NewMockAmp()
		link := &fakeLink{connected: true, frequency: 14100000, haveFreq: true} // 20m
		c, _ := newTestCoordinator(link, mock)

		c.cycle()

		if mock.SetBandCalls() != 0 {
			t.Error("matching frequency must not re-select the band")
		}
	})

	t.Run("Out Of Band Frequency Ignored", func(t *testing.T) {
		mock := amp.NewMockAmp()
		link := &fakeLink{connected: true, frequency: 4000000, haveFreq: true} // 80m/60m gap
		c, _ := newTestCoordinator(link, mock)

		c.cycle()

		if mock.SetBandCalls() != 0 {
			t.Error("out-of-band frequency must not change the band")
		}
		if c.currentBand != DefaultBand {
			t.Errorf("current band drifted to %d", c.currentBand)
		}
	})

	t.Run("Request Timeout Is Not Fatal", func(t *testing.T) {
		mock := amp.NewMockAmp()
		link := &fakeLink{connected: true, haveFreq: false}
		c, st := newTestCoordinator(link, mock)

		c.cycle()

		status, _, ok := st.Snapshot()
		if !ok {
			t.Fatal("snapshot failed")
		}
		if !status.AmpConnected {
			t.Error("a link timeout must not mark the amplifier down")
		}
	})
}

func TestAmplifierDisconnected(t *testing.T) {
	mock := amp.NewMockAmp()
	link := &fakeLink{}
	c, st := newTestCoordinator(link, mock)

	// Establish a healthy snapshot first
	c.cycle()
	st.Snapshot()

	mock.SetConnected(false)
	c.cycle()

	status, dirty, ok := st.Snapshot()
	if !ok {
		t.Fatal("snapshot failed")
	}
	if status.AmpConnected {
		t.Error("expected amplifier reported disconnected")
	}
	if status.SWR != amp.ValueUnset || status.Power != amp.ValueUnset {
		t.Errorf("expected unset sentinels, got swr=%s power=%s", status.SWR, status.Power)
	}
	if !dirty.Has(state.FieldConnection) {
		t.Error("expected connection change flagged")
	}
}

func TestCycleAdvancesLink(t *testing.T) {
	mock := amp.NewMockAmp()
	link := &fakeLink{}
	c, _ := newTestCoordinator(link, mock)

	c.cycle()
	c.cycle()

	if link.polls != 2 {
		t.Errorf("expected one link poll per cycle, got %d", link.polls)
	}
}

func TestStartStop(t *testing.T) {
	mock := amp.NewMockAmp()
	link := &fakeLink{}
	st := state.New()
	c := New(link, mock, st, 20*time.Millisecond, 10*time.Millisecond)
	c.startupWait = 0

	if err := c.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := c.Start(); err == nil {
		t.Error("expected error on double start")
	}

	// Let a few cycles run
	time.Sleep(100 * time.Millisecond)
	c.Stop()

	if link.polls == 0 {
		t.Error("expected the loop to poll the link")
	}

	// Stop is idempotent
	c.Stop()
}
