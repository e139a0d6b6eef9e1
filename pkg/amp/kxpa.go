package amp

import (
	"strconv"
	"strings"
	"time"

	"github.com/kxpad/kxpad/pkg/bandplan"
	"github.com/kxpad/kxpad/pkg/logging"
	"github.com/kxpad/kxpad/pkg/verbose"
)

const (
	// terminator ends every reply on the wire
	terminator = ';'

	setBandRetries = 3
	retryPause     = 50 * time.Millisecond
)

// KXPA100 implements Client over the amplifier's ASCII serial protocol
type KXPA100 struct {
	port        Port
	settleDelay time.Duration
}

// NewKXPA100 creates a client over an already-open port. settleDelay is the
// minimum inter-command spacing the protocol requires.
func NewKXPA100(port Port, settleDelay time.Duration) *KXPA100 {
	return &KXPA100{
		port:        port,
		settleDelay: settleDelay,
	}
}

// Open opens the serial device and returns a client for it
func Open(device string, baudRate int, settleDelay, readTimeout time.Duration) (*KXPA100, error) {
	port, err := OpenPort(device, baudRate, readTimeout)
	if err != nil {
		return nil, err
	}
	return NewKXPA100(port, settleDelay), nil
}

// Close closes the serial port
func (k *KXPA100) Close() error {
	return k.port.Close()
}

// CheckConnection sends the identification command and verifies the reply.
// Any mismatch, including an empty reply, means not connected.
func (k *KXPA100) CheckConnection() bool {
	resp := k.exchange(IdentifyCommand)
	ok := resp == ExpectedIdentity
	if !ok {
		verbose.Printf("amp: connection check failed (got %q)", resp)
	}
	return ok
}

// SWR returns the standing wave ratio, one decimal place
func (k *KXPA100) SWR() string {
	return k.numeric("^SW;", "^SW", 10, 1.0, 99.9, 1)
}

// Power returns the forward power in watts
func (k *KXPA100) Power() string {
	return k.numeric("^PF;", "^PF", 10, 0, 150, 0)
}

// Temperature returns the PA temperature in degrees C
func (k *KXPA100) Temperature() string {
	return k.numeric("^TM;", "^TM", 10, -40, 100, 0)
}

// Voltage returns the supply voltage, one decimal place
func (k *KXPA100) Voltage() string {
	return k.numeric("^SV;", "^SV", 1000, 0, 20, 1)
}

// Antenna returns the raw antenna selection reply
func (k *KXPA100) Antenna() string {
	resp := k.exchange("^AN;")
	if resp == "" {
		return ValueUnset
	}
	return resp
}

// FaultCodes returns the current fault code string
func (k *KXPA100) FaultCodes() string {
	resp := k.exchange("^FL;")
	if resp == "" {
		return ValueUnset
	}
	return strings.TrimPrefix(resp, "^FL")
}

// Mode returns the operating mode label. Replies outside the known set are
// returned as-is rather than treated as errors.
func (k *KXPA100) Mode() string {
	resp := k.exchange("^MD;")
	if resp == "" {
		return "Unknown"
	}
	if label, ok := modeLabels[resp]; ok {
		return label
	}
	logging.Warnf("amp", "unknown mode reply %q", resp)
	return resp
}

// SetMode sends a mode set command (ModeBypassCmd, ModeManualCmd,
// ModeAutomaticCmd) and returns the echo.
func (k *KXPA100) SetMode(cmd string) string {
	return k.exchange(cmd)
}

// Band queries the currently selected band index. Unparseable or
// out-of-range replies yield bandplan.NotFound.
func (k *KXPA100) Band() int {
	resp := k.exchange("^BN;")
	if resp == "" {
		return bandplan.NotFound
	}

	raw := strings.TrimPrefix(resp, "^BN")
	index, err := strconv.Atoi(raw)
	if err != nil {
		logging.Warnf("amp", "unparseable band reply %q", resp)
		return bandplan.NotFound
	}
	if !bandplan.Valid(index) {
		logging.Warnf("amp", "band index %d out of range", index)
		return bandplan.NotFound
	}
	return index
}

// SetBand selects a band and its antenna, then re-reads the band to verify
// it applied, retrying the whole sequence a few times. The band command goes
// first; antenna legality depends on the selected band. Giving up is
// non-fatal, the amplifier keeps whatever it reports.
func (k *KXPA100) SetBand(index int) {
	if !bandplan.Valid(index) {
		logging.Warnf("amp", "setBand: invalid index %d", index)
		return
	}

	entry := bandplan.Table[index]
	for attempt := 0; attempt < setBandRetries; attempt++ {
		k.sendRaw(entry.BandCmd)
		k.sendRaw(entry.AntennaCmd)

		if k.Band() == index {
			return
		}

		logging.Warnf("amp", "setBand %s: verify failed, retry %d/%d", entry.Name, attempt+1, setBandRetries)
		time.Sleep(retryPause)
	}

	logging.Errorf("amp", "setBand %s: gave up after %d attempts", entry.Name, setBandRetries)
}

// BandName returns the band label for index
func (k *KXPA100) BandName(index int) string {
	return bandplan.Name(index)
}

// IndexByFrequency maps a frequency in Hz to a band index
func (k *KXPA100) IndexByFrequency(freq uint64) int {
	return bandplan.IndexByFrequency(freq)
}

// numeric runs a query whose reply is a scaled integer, applying the
// plausibility range after scaling. Empty replies map to ValueUnset so a
// missing reading is never mistaken for a zero one.
func (k *KXPA100) numeric(cmd, prefix string, scale, min, max float64, decimals int) string {
	resp := k.exchange(cmd)
	if resp == "" {
		return ValueUnset
	}

	raw := strings.TrimPrefix(resp, prefix)
	if raw == resp {
		// Wrong prefix: a desynchronized or merged reply
		logging.Warnf("amp", "unexpected reply %q for %q", resp, cmd)
		return ValueError
	}

	n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		logging.Warnf("amp", "unparseable reply %q for %q", resp, cmd)
		return ValueError
	}

	value := n / scale
	if value < min || value > max {
		logging.Warnf("amp", "implausible value %.1f for %q", value, cmd)
		return ValueError
	}

	return strconv.FormatFloat(value, 'f', decimals, 64)
}

// exchange is the protocol primitive: discard stale input, write the full
// command, wait the settle delay, then read up to the terminator or the port
// read timeout. Returns the reply without the terminator, or "" on any
// failure.
func (k *KXPA100) exchange(cmd string) string {
	if err := k.port.ResetInputBuffer(); err != nil {
		logging.Warnf("amp", "input buffer reset failed: %v", err)
		return ""
	}

	if !k.sendRaw(cmd) {
		return ""
	}

	var resp []byte
	buf := make([]byte, 64)
	for {
		n, err := k.port.Read(buf)
		if err != nil {
			logging.Warnf("amp", "read failed: %v", err)
			return ""
		}
		if n == 0 {
			// Port read timeout
			if len(resp) > 0 {
				verbose.Printf("amp: discarding unterminated reply %q for %q", resp, cmd)
			} else {
				verbose.Printf("amp: no response for %q", cmd)
			}
			return ""
		}

		for i := 0; i < n; i++ {
			if buf[i] == terminator {
				return string(resp)
			}
			resp = append(resp, buf[i])
		}
	}
}

// sendRaw writes one command and waits the settle delay. A short write is a
// failure, not partial success.
func (k *KXPA100) sendRaw(cmd string) bool {
	n, err := k.port.Write([]byte(cmd))
	if err != nil || n != len(cmd) {
		logging.Warnf("amp", "incomplete command write for %q: %v", cmd, err)
		return false
	}
	time.Sleep(k.settleDelay)
	return true
}
