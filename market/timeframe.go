package market

import (
	"fmt"
	"time"
)

// Timeframe is a bar period in the venue's notation, e.g. "M5" or "H4".
type Timeframe string

const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
	W1  Timeframe = "W1"
)

// Seconds returns the length of one bar.
func (tf Timeframe) Seconds() (int32, error) {
	switch tf {
	case M1:
		return 60, nil
	case M5:
		return 300, nil
	case M15:
		return 900, nil
	case M30:
		return 1800, nil
	case H1:
		return 3600, nil
	case H4:
		return 14400, nil
	case D1:
		return 86400, nil
	case W1:
		return 604800, nil
	default:
		return 0, fmt.Errorf("unsupported timeframe: %q", string(tf))
	}
}

// Duration is Seconds as a time.Duration. Unknown timeframes return 0.
func (tf Timeframe) Duration() time.Duration {
	s, err := tf.Seconds()
	if err != nil {
		return 0
	}
	return time.Duration(s) * time.Second
}

// TimeframeFromSeconds maps a bar length back to its notation.
func TimeframeFromSeconds(sec int32) (Timeframe, error) {
	if sec <= 0 {
		return "", fmt.Errorf("invalid timeframe seconds: %d", sec)
	}
	if sec < 3600 && sec%60 == 0 {
		return Timeframe(fmt.Sprintf("M%d", sec/60)), nil
	}
	if sec < 86400 && sec%3600 == 0 {
		return Timeframe(fmt.Sprintf("H%d", sec/3600)), nil
	}
	if sec == 604800 {
		return W1, nil
	}
	if sec%86400 == 0 {
		return Timeframe(fmt.Sprintf("D%d", sec/86400)), nil
	}
	return "", fmt.Errorf("cannot map timeframe: %d seconds", sec)
}
