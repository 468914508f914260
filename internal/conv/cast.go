package conv

import (
	"fmt"
)

// IntToUint converts int to uint safely.
func IntToUint(v int) (uint, error) {
	if v < 0 {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to uint (negative)", v)
	}
	return uint(v), nil
}
