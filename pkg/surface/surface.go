package surface

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kxpad/kxpad/pkg/bandplan"
	"github.com/kxpad/kxpad/pkg/logging"
	"github.com/kxpad/kxpad/pkg/state"
)

const (
	// TickInterval is how often the loop wakes to process input.
	TickInterval = 50 * time.Millisecond

	// DefaultRefresh is the fallback render cadence when the config does
	// not override it.
	DefaultRefresh = 500 * time.Millisecond

	// RepeatInitialDelay and RepeatRate control band-button auto-repeat
	// while a scroll button stays held.
	RepeatInitialDelay = 400 * time.Millisecond
	RepeatRate         = 150 * time.Millisecond

	// PowerOffWarning and PowerOffDue are measured from the last moment
	// the amplifier answered its identification query. Acting on the due
	// signal is the surface implementation's business.
	PowerOffWarning = 25 * time.Second
	PowerOffDue     = 30 * time.Second
)

// Button identifies one control-surface button.
type Button int

const (
	ButtonNone Button = iota
	ButtonDown
	ButtonUp
	ButtonConfirm
)

func (b Button) String() string {
	switch b {
	case ButtonDown:
		return "down"
	case ButtonUp:
		return "up"
	case ButtonConfirm:
		return "confirm"
	default:
		return "none"
	}
}

// ButtonEvent is one press or release reported by a Surface.
type ButtonEvent struct {
	Button  Button
	Pressed bool
}

// Frame carries everything a surface needs to draw one refresh.
type Frame struct {
	BandName  string
	Selecting bool

	Power   string
	Temp    string
	SWR     string
	Antenna string
	Mode    string
	Faults  string
	Voltage string

	LinkConnected bool
	AmpConnected  bool
	ControlMode   string

	PowerOffWarning bool
	PowerOffDue     bool
}

// Surface is the concrete control-surface collaborator: button events in,
// rendered frames out. Render must not block the caller for long.
type Surface interface {
	Events() <-chan ButtonEvent
	Render(Frame)
}

// AntennaLabel rewrites the raw amplifier antenna reply into the short form
// shown on the surface.
func AntennaLabel(raw string) string {
	s := strings.TrimSuffix(raw, ";")
	switch s {
	case "^AN1":
		return "ANT1"
	case "^AN2":
		return "ANT2"
	}
	return raw
}

// Loop drives a Surface from the shared snapshot. It owns the pending band
// selection, button auto-repeat, the render cadence, and the power-off
// timers. All blocking I/O stays in the background loop; this one only
// takes the shared lock (bounded) and calls Render.
type Loop struct {
	surface Surface
	state   *state.State
	refresh time.Duration

	bandCounter int
	selecting   bool
	held        Button
	repeatAt    time.Time

	lastStatus state.Status
	lastRender time.Time
	renderNow  bool

	lastAmpSeen time.Time
	warned      bool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mutex   sync.Mutex
}

// New creates a surface loop. A refresh of zero selects DefaultRefresh.
func New(sfc Surface, st *state.State, refresh time.Duration) *Loop {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	return &Loop{
		surface:    sfc,
		state:      st,
		refresh:    refresh,
		lastStatus: state.NewStatus(),
		renderNow:  true,
	}
}

// Start launches the loop goroutine.
func (l *Loop) Start() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.running {
		return fmt.Errorf("surface loop already running")
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.running = true

	now := time.Now()
	l.lastAmpSeen = now

	l.wg.Add(1)
	go l.run()

	logging.Info("surface", "Control surface loop started")
	return nil
}

// Stop shuts the loop down and waits for it to exit.
func (l *Loop) Stop() {
	l.mutex.Lock()
	if !l.running {
		l.mutex.Unlock()
		return
	}
	l.cancel()
	l.running = false
	l.mutex.Unlock()

	l.wg.Wait()
	logging.Info("surface", "Control surface loop stopped")
}

func (l *Loop) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.tick(time.Now())
		}
	}
}

// tick is one pass of the foreground loop: consume the snapshot, handle
// buttons, update the power-off timers, render when due.
func (l *Loop) tick(now time.Time) {
	status, dirty, ok := l.state.Snapshot()
	if ok {
		l.lastStatus = status
	} else {
		// Lock contention: carry on with the previous values.
		status = l.lastStatus
	}

	if status.AmpConnected {
		l.lastAmpSeen = now
		l.warned = false
	}
	offline := now.Sub(l.lastAmpSeen)

	// While the CAT link drives the band the local buttons are inert,
	// but a press still counts as operator presence for power-off.
	pressed := l.handleButtons(now, status.LinkConnected)
	// A confirm updates lastStatus optimistically; render that this tick.
	status = l.lastStatus
	if pressed {
		l.lastAmpSeen = now
		l.warned = false
		offline = 0
	}

	if !l.selecting {
		l.bandCounter = status.BandIndex
	}

	warning := offline > PowerOffWarning
	due := offline > PowerOffDue
	if warning && !l.warned {
		logging.Warn("surface", "Amplifier offline, power-off pending")
		l.warned = true
	}

	if l.renderNow || dirty.Any() || now.Sub(l.lastRender) >= l.refresh {
		l.render(status, warning, due)
		l.lastRender = now
		l.renderNow = false
	}
}

// handleButtons drains pending events and applies auto-repeat. Returns
// whether any button was pressed this tick.
func (l *Loop) handleButtons(now time.Time, catControl bool) bool {
	pressed := false

	for {
		var ev ButtonEvent
		select {
		case ev = <-l.surface.Events():
		default:
			if l.repeatHeld(now, catControl) {
				pressed = true
			}
			return pressed
		}

		if !ev.Pressed {
			if ev.Button == l.held {
				l.held = ButtonNone
			}
			continue
		}
		pressed = true
		if catControl {
			continue
		}

		switch ev.Button {
		case ButtonUp, ButtonDown:
			l.step(ev.Button)
			l.held = ev.Button
			l.repeatAt = now.Add(RepeatInitialDelay)
			l.renderNow = true
		case ButtonConfirm:
			l.confirm()
		}
	}
}

// repeatHeld fires the held scroll button once its repeat deadline passed.
func (l *Loop) repeatHeld(now time.Time, catControl bool) bool {
	if l.held == ButtonNone || catControl {
		return false
	}
	if now.Before(l.repeatAt) {
		return false
	}
	l.step(l.held)
	l.repeatAt = now.Add(RepeatRate)
	l.renderNow = true
	return true
}

// step moves the pending band selection one entry, clamped to the table.
func (l *Loop) step(b Button) {
	switch b {
	case ButtonUp:
		if l.bandCounter < bandplan.Count()-1 {
			l.bandCounter++
		}
	case ButtonDown:
		if l.bandCounter > 0 {
			l.bandCounter--
		}
	}
	l.selecting = true
}

// confirm enqueues the pending selection as a manual request and applies
// the optimistic local update so the next render shows the choice.
func (l *Loop) confirm() {
	name := bandplan.Name(l.bandCounter)
	if !l.state.RequestBand(l.bandCounter, name) {
		logging.Warn("surface", "Band request dropped, lock busy")
		return
	}
	logging.Infof("surface", "Manual band request: %s", name)
	l.lastStatus.BandIndex = l.bandCounter
	l.lastStatus.BandName = name
	l.selecting = false
	l.renderNow = true
}

func (l *Loop) render(status state.Status, warning, due bool) {
	frame := Frame{
		BandName:        status.BandName,
		Selecting:       l.selecting,
		Power:           status.Power,
		Temp:            status.Temp,
		SWR:             status.SWR,
		Antenna:         AntennaLabel(status.Antenna),
		Mode:            status.Mode,
		Faults:          status.Faults,
		Voltage:         status.Voltage,
		LinkConnected:   status.LinkConnected,
		AmpConnected:    status.AmpConnected,
		PowerOffWarning: warning,
		PowerOffDue:     due,
	}
	if l.selecting {
		frame.BandName = bandplan.Name(l.bandCounter)
	}
	if status.LinkConnected {
		frame.ControlMode = "CAT Control"
	} else {
		frame.ControlMode = "Manual Control"
	}
	l.surface.Render(frame)
}
