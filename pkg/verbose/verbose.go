package verbose

import "log"

var enabled bool

// SetEnabled sets the global verbose logging flag
func SetEnabled(enable bool) {
	enabled = enable
}

// IsEnabled returns whether verbose logging is enabled
func IsEnabled() bool {
	return enabled
}

// Printf prints a verbose log message if verbose logging is enabled
func Printf(format string, args ...interface{}) {
	if enabled {
		log.Printf("[VERBOSE] "+format, args...)
	}
}
