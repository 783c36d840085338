package bikeserial

import (
	"strings"

	"github.com/goccy/go-json"
)

// SignatureFields are the top-level keys only the bike controller emits. A frame
// holding any of them identifies the port as the device.
var SignatureFields = []string{"distance_1", "bikeA"}

// IsDeviceFrame reports whether line is a JSON object carrying a signature field.
// A field present with a null value still counts.
func IsDeviceFrame(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" || line[0] != '{' {
		return false
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		return false
	}
	for _, field := range SignatureFields {
		if _, ok := obj[field]; ok {
			return true
		}
	}
	return false
}
