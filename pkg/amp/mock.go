package amp

import (
	"sync"

	"github.com/kxpad/kxpad/pkg/bandplan"
	"github.com/kxpad/kxpad/pkg/verbose"
)

// MockAmp implements Client for testing and --mock runs
type MockAmp struct {
	mutex sync.RWMutex

	connected bool
	band      int
	mode      string
	swr       string
	power     string
	temp      string
	voltage   string
	antenna   string
	faults    string

	// Counters for assertions
	setBandCalls int
}

// NewMockAmp creates a connected mock amplifier sitting on 20m
func NewMockAmp() *MockAmp {
	return &MockAmp{
		connected: true,
		band:      5, // 20m
		mode:      "Automatic",
		swr:       "1.2",
		power:     "0",
		temp:      "32",
		voltage:   "13.8",
		antenna:   "^AN1",
		faults:    "00",
	}
}

// SetConnected flips the mock connection state
func (m *MockAmp) SetConnected(connected bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.connected = connected
}

// SetReadings overrides the reported secondary readings
func (m *MockAmp) SetReadings(swr, power, temp, voltage string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.swr, m.power, m.temp, m.voltage = swr, power, temp, voltage
}

// SetBandCalls returns how many times SetBand was invoked
func (m *MockAmp) SetBandCalls() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.setBandCalls
}

// CheckConnection returns the mock connection state
func (m *MockAmp) CheckConnection() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.connected
}

// Close disconnects the mock
func (m *MockAmp) Close() error {
	m.SetConnected(false)
	return nil
}

// Band returns the mock band index, or NotFound when disconnected
func (m *MockAmp) Band() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if !m.connected {
		return bandplan.NotFound
	}
	return m.band
}

// SetBand selects a band on the mock
func (m *MockAmp) SetBand(index int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.setBandCalls++
	if !bandplan.Valid(index) {
		verbose.Printf("mockamp: setBand invalid index %d", index)
		return
	}
	if m.connected {
		m.band = index
		m.antenna = bandplan.Table[index].AntennaCmd[:len(bandplan.Table[index].AntennaCmd)-1]
	}
}

// BandName returns the band label for index
func (m *MockAmp) BandName(index int) string {
	return bandplan.Name(index)
}

// IndexByFrequency maps a frequency in Hz to a band index
func (m *MockAmp) IndexByFrequency(freq uint64) int {
	return bandplan.IndexByFrequency(freq)
}

// Mode returns the mock operating mode
func (m *MockAmp) Mode() string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if !m.connected {
		return "Unknown"
	}
	return m.mode
}

// SetMode records the requested mode on the mock
func (m *MockAmp) SetMode(cmd string) string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if label, ok := modeLabels[cmd[:len(cmd)-1]]; ok {
		m.mode = label
	}
	return cmd
}

// SWR returns the mock SWR reading
func (m *MockAmp) SWR() string { return m.reading(func() string { return m.swr }) }

// Power returns the mock power reading
func (m *MockAmp) Power() string { return m.reading(func() string { return m.power }) }

// Temperature returns the mock temperature reading
func (m *MockAmp) Temperature() string { return m.reading(func() string { return m.temp }) }

// Voltage returns the mock voltage reading
func (m *MockAmp) Voltage() string { return m.reading(func() string { return m.voltage }) }

// Antenna returns the mock antenna selection
func (m *MockAmp) Antenna() string { return m.reading(func() string { return m.antenna }) }

// FaultCodes returns the mock fault codes
func (m *MockAmp) FaultCodes() string { return m.reading(func() string { return m.faults }) }

func (m *MockAmp) reading(get func() string) string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if !m.connected {
		return ValueUnset
	}
	return get()
}
