package amp

// Sentinel display values. ValueUnset marks a reading the amplifier did not
// answer, distinguishable from a genuine zero; ValueError marks a reply that
// parsed but failed its plausibility check.
const (
	ValueUnset = "--"
	ValueError = "ERR"
)

// Identity handshake: the reply the real amplifier gives to "^I;".
const (
	IdentifyCommand  = "^I;"
	ExpectedIdentity = "^IKXPA100"
)

// Operating mode set commands
const (
	ModeBypassCmd    = "^MDB;"
	ModeManualCmd    = "^MDM;"
	ModeAutomaticCmd = "^MDA;"
)

// modeLabels maps mode query replies to human labels. Replies outside the
// table are shown raw so unexpected firmware strings stay visible.
var modeLabels = map[string]string{
	"^MDB": "Bypass",
	"^MDM": "Manual",
	"^MDA": "Automatic",
}

// Client defines amplifier control operations
type Client interface {
	// Connection
	CheckConnection() bool
	Close() error

	// Band control
	Band() int
	SetBand(index int)
	BandName(index int) string
	IndexByFrequency(freq uint64) int

	// Mode control
	Mode() string
	SetMode(cmd string) string

	// Readings
	SWR() string
	Power() string
	Temperature() string
	Voltage() string
	Antenna() string
	FaultCodes() string
}
