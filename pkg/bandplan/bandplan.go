package bandplan

// Entry describes one HF band the KXPA100 can operate on, along with the
// amplifier commands that select it. Every band has a mandatory antenna
// selection; antenna legality depends on the band (6m uses ANT2).
type Entry struct {
	Lower      uint64 // lower edge in Hz, inclusive
	Upper      uint64 // upper edge in Hz, inclusive
	Name       string // short band label ("20m")
	BandCmd    string // amplifier band select command
	AntennaCmd string // antenna select command sent after the band command
}

// Table is the KXPA100 band plan, ordered by ascending frequency with
// non-overlapping ranges. Read-only after initialization.
var Table = []Entry{
	{1800000, 2000000, "160m", "^BN00;", "^AN1;"},
	{3500000, 3800000, "80m", "^BN01;", "^AN1;"},
	{5351500, 5366500, "60m", "^BN02;", "^AN1;"},
	{7000000, 7200000, "40m", "^BN03;", "^AN1;"},
	{10100000, 10150000, "30m", "^BN04;", "^AN1;"},
	{14000000, 14350000, "20m", "^BN05;", "^AN1;"},
	{18068000, 18168000, "17m", "^BN06;", "^AN1;"},
	{21000000, 21450000, "15m", "^BN07;", "^AN1;"},
	{24890000, 24990000, "12m", "^BN08;", "^AN1;"},
	{28000000, 29700000, "10m", "^BN09;", "^AN1;"},
	{50000000, 52000000, "6m", "^BN10;", "^AN2;"},
}

// NotFound is returned by IndexByFrequency when no band contains the
// frequency and by band queries that could not be parsed.
const NotFound = -1

// Count returns the number of bands in the table.
func Count() int {
	return len(Table)
}

// Valid reports whether index refers to a band in the table.
func Valid(index int) bool {
	return index >= 0 && index < len(Table)
}

// Name returns the band label for index, or "Invalid" when out of bounds.
func Name(index int) string {
	if !Valid(index) {
		return "Invalid"
	}
	return Table[index].Name
}

// IndexByFrequency returns the index of the band containing freq, inclusive
// of both edges, or NotFound when the frequency lies outside all bands.
func IndexByFrequency(freq uint64) int {
	for i := range Table {
		if freq >= Table[i].Lower && freq <= Table[i].Upper {
			return i
		}
	}
	return NotFound
}
