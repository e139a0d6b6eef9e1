// Package coordinator runs the backend reconciliation loop: it polls the
// CAT link and the amplifier on a fixed cadence, applies manual band
// requests, tracks the transceiver frequency, and publishes results into
// the shared state.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kxpad/kxpad/pkg/amp"
	"github.com/kxpad/kxpad/pkg/bandplan"
	"github.com/kxpad/kxpad/pkg/logging"
	"github.com/kxpad/kxpad/pkg/state"
)

// DefaultBand is selected at startup when the amplifier is present (20m)
const DefaultBand = 5

const (
	startupWait     = 5 * time.Second
	startupPollStep = 100 * time.Millisecond
)

// CATLink is the view of the link client the coordinator drives. It owns
// the client exclusively; these calls never run concurrently.
type CATLink interface {
	Poll()
	IsConnected() bool
	FetchFrequency(timeout time.Duration) (uint64, bool)
}

// Coordinator owns the background loop
type Coordinator struct {
	link  CATLink
	amp   amp.Client
	state *state.State

	pollInterval   time.Duration
	requestTimeout time.Duration
	startupWait    time.Duration

	// currentBand is the loop's local idea of the selected band; only the
	// background goroutine touches it.
	currentBand int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mutex   sync.Mutex
}

// New creates a coordinator over the given collaborators
func New(catLink CATLink, device amp.Client, st *state.State, pollInterval, requestTimeout time.Duration) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		link:           catLink,
		amp:            device,
		state:          st,
		pollInterval:   pollInterval,
		requestTimeout: requestTimeout,
		startupWait:    startupWait,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start launches the background loop
func (c *Coordinator) Start() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.running {
		return fmt.Errorf("coordinator already running")
	}
	c.running = true

	c.wg.Add(1)
	go c.run()
	return nil
}

// Stop stops the background loop and waits for it to exit
func (c *Coordinator) Stop() {
	c.mutex.Lock()
	if !c.running {
		c.mutex.Unlock()
		return
	}
	c.running = false
	c.mutex.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) run() {
	defer c.wg.Done()

	c.startup()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.cycle()
		}
	}
}

// startup waits briefly for the amplifier and applies the initial band and
// automatic mode. A missing amplifier is not fatal; the loop keeps retrying.
func (c *Coordinator) startup() {
	logging.Info("coordinator", "waiting for amplifier...")

	deadline := time.Now().Add(c.startupWait)
	for !c.amp.CheckConnection() && time.Now().Before(deadline) {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(startupPollStep):
		}
	}

	if c.amp.CheckConnection() {
		logging.Infof("coordinator", "amplifier connected, selecting %s", bandplan.Name(DefaultBand))
		c.amp.SetBand(DefaultBand)
		c.amp.SetMode(amp.ModeAutomaticCmd)
		c.currentBand = DefaultBand
	} else {
		logging.Warn("coordinator", "amplifier not detected, will retry")
	}
}

// cycle is one reconciliation pass
func (c *Coordinator) cycle() {
	// 1. Advance the link state machine (non-blocking)
	c.link.Poll()

	// 2. Fetch-and-clear any manual request
	target, manualReq, ok := c.state.TakeRequest()
	if !ok {
		// Lock not acquired in time; skip this cycle, nothing is lost
		return
	}

	scratch := state.NewStatus()
	justSwitched := false

	// 3. Manual requests take priority over automatic tracking
	if manualReq {
		logging.Infof("coordinator", "manual band change to %s", bandplan.Name(target))
		c.amp.SetBand(target)
		c.currentBand = target
		justSwitched = true
	}

	// 4. Poll amplifier status. Each read fails on its own; one bad reading
	// never aborts the batch.
	ampOk := c.amp.CheckConnection()
	if ampOk {
		if !justSwitched {
			// Re-reading the band right after a manual switch would race
			// with the device applying it
			if band := c.amp.Band(); band != bandplan.NotFound {
				c.currentBand = band
			}
		}

		scratch.Power = c.amp.Power()
		scratch.Temp = c.amp.Temperature()
		scratch.SWR = c.amp.SWR()
		scratch.Antenna = c.amp.Antenna()
		scratch.Mode = c.amp.Mode()
		scratch.Faults = c.amp.FaultCodes()
		scratch.Voltage = c.amp.Voltage()
		scratch.BandName = bandplan.Name(c.currentBand)
	}
	scratch.BandIndex = c.currentBand

	// 5. Frequency tracking, unless a manual request was honored this cycle
	linkOk := c.link.IsConnected()
	if linkOk && !manualReq {
		if freq, got := c.link.FetchFrequency(c.requestTimeout); got {
			index := c.amp.IndexByFrequency(freq)
			if bandplan.Valid(index) && index != c.currentBand {
				logging.Infof("coordinator", "tracking %d Hz to %s", freq, bandplan.Name(index))
				c.amp.SetBand(index)
				c.currentBand = index
				scratch.BandIndex = index
				scratch.BandName = bandplan.Name(index)
			}
		}
	}

	// 6. Publish under the shared lock; Publish defers band fields if a
	// newer manual request slipped in since step 2
	scratch.LinkConnected = linkOk
	scratch.AmpConnected = ampOk
	c.state.Publish(scratch)
}
