package bikeserial

import (
	"strings"
)

// isValidPortPattern rejects names that cannot be serial devices, such as paths
// outside /dev or with traversal segments, before they reach the driver. Any
// device node the enumerator can report (tty*, cu.*, rfcomm*, serial/by-id/...)
// is accepted.
func isValidPortPattern(portName string) bool {
	if strings.Contains(portName, "..") {
		return false
	}
	// Windows: COM1-COM999 (must have at least one digit after COM)
	if strings.HasPrefix(portName, "COM") && len(portName) >= 4 && len(portName) <= 6 {
		return strings.Trim(portName[3:], "0123456789") == ""
	}
	// Unix: device nodes only
	return strings.HasPrefix(portName, "/dev/") && len(portName) > len("/dev/")
}
