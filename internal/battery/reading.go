package battery

import (
	"errors"
	"fmt"
	"strings"
)

// MaxLevel is the highest meaningful Battery Level value (percent).
const MaxLevel = 100

var (
	ErrEmptyPayload    = errors.New("empty battery level payload")
	ErrLevelOutOfRange = errors.New("battery level out of range")
)

// Reading is one battery sample.
type Reading struct {
	Level     uint8 `json:"level"`
	Timestamp int64 `json:"ts"` // milliseconds since an arbitrary epoch
}

func (r Reading) String() string {
	return fmt.Sprintf("%d%%", r.Level)
}

// ParseLevel extracts the battery level from a Battery Level characteristic value.
// Only the first byte is meaningful; values above MaxLevel are rejected.
func ParseLevel(payload []byte) (uint8, error) {
	if len(payload) == 0 {
		return 0, ErrEmptyPayload
	}
	return ValidateLevel(payload[0])
}

// ValidateLevel rejects raw bytes outside 0-100.
func ValidateLevel(raw byte) (uint8, error) {
	if raw > MaxLevel {
		return 0, fmt.Errorf("%w: %d", ErrLevelOutOfRange, raw)
	}
	return raw, nil
}

// Label joins reading levels for display, e.g. "81%, 80%".
func Label(readings []Reading) string {
	parts := make([]string, len(readings))
	for i, r := range readings {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}
