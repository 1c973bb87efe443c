// Package indicators provides the technical analysis functions the engine and the
// reference strategies use. All functions take bars ordered oldest to newest and
// are pure.
package indicators

import (
	"errors"
	"fmt"
)

// ErrInsufficientData is returned when a window is shorter than an indicator needs.
var ErrInsufficientData = errors.New("insufficient data")

func checkWindow(have, need, period int) error {
	if period <= 0 {
		return fmt.Errorf("period must be positive, got %d", period)
	}
	if have < need {
		return fmt.Errorf("%w: need %d, got %d", ErrInsufficientData, need, have)
	}
	return nil
}
