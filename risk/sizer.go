package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/rustyeddy/riskengine/market"
)

var (
	// ErrVolumeBelowMinimum means the margin cap cannot fund even the minimum lot.
	ErrVolumeBelowMinimum = errors.New("volume below minimum")

	// ErrInvalidSizingInput means the inputs cannot produce a volume, such as a
	// zero stop distance or a max lot below the min lot.
	ErrInvalidSizingInput = errors.New("invalid sizing input")
)

const stepEpsilon = 1e-9

// Allocate returns the slice of equity a strategy may trade with.
func Allocate(equity, allocation float64) float64 {
	if equity <= 0 || allocation <= 0 {
		return 0
	}
	return equity * math.Min(allocation, 1)
}

// MaxVolumeByMargin is the largest step-aligned volume whose margin fits in
// marginCap.
func MaxVolumeByMargin(marginCap, marginPerLot, step float64) float64 {
	if marginCap <= 0 || marginPerLot <= 0 || step <= 0 {
		return 0
	}
	return floorToStep(marginCap/marginPerLot, step)
}

type SizingInput struct {
	Entry        float64
	Stop         float64
	Equity       float64
	Allocation   float64
	MarginPerLot float64 // account-currency margin for 1.0 lot at Entry
	Spec         market.InstrumentSpec
	Policy       Policy
}

// Sizing records every intermediate of a sizing decision so callers can log it.
type Sizing struct {
	Allocated         float64
	RiskAmount        float64
	StopValuePerLot   float64
	RawVolume         float64
	MarginCap         float64
	MaxVolumeByMargin float64
	MinLot            float64
	MaxLot            float64
	Volume            float64
}

// Size turns a stop distance into an order volume. The returned volume is a
// multiple of the instrument's volume step, lies within the instrument's
// volume bounds and never needs more margin than the per-trade cap.
func Size(in SizingInput) (Sizing, error) {
	var s Sizing
	spec := in.Spec
	if spec.VolumeStep <= 0 || spec.ContractSize <= 0 {
		return s, fmt.Errorf("%w: %s volume step %v contract size %v",
			ErrInvalidSizingInput, spec.Name, spec.VolumeStep, spec.ContractSize)
	}
	if in.MarginPerLot <= 0 {
		return s, fmt.Errorf("%w: margin per lot %v", ErrInvalidSizingInput, in.MarginPerLot)
	}

	s.Allocated = Allocate(in.Equity, in.Allocation)
	s.RiskAmount = s.Allocated * in.Policy.RiskPerTrade
	s.StopValuePerLot = StopValuePerLot(in.Entry, in.Stop, spec)
	if s.StopValuePerLot <= 0 {
		return s, fmt.Errorf("%w: stop %v equals entry %v", ErrInvalidSizingInput, in.Stop, in.Entry)
	}

	s.RawVolume = clampVolume(floorToStep(s.RiskAmount/s.StopValuePerLot, spec.VolumeStep), spec)

	s.MarginCap = s.Allocated * in.Policy.MarginCapPerTrade
	s.MaxVolumeByMargin = MaxVolumeByMargin(s.MarginCap, in.MarginPerLot, spec.VolumeStep)

	s.MinLot = ceilToStep(math.Max(in.Policy.MinLot, spec.VolumeMin), spec.VolumeStep)
	s.MaxLot = in.Policy.MaxLot
	if spec.VolumeMax > 0 && spec.VolumeMax < s.MaxLot {
		s.MaxLot = spec.VolumeMax
	}
	if s.MaxLot < s.MinLot {
		return s, fmt.Errorf("%w: max lot %v below min lot %v", ErrInvalidSizingInput, s.MaxLot, s.MinLot)
	}

	if s.MaxVolumeByMargin+stepEpsilon < s.MinLot {
		return s, fmt.Errorf("%w: margin cap %.2f allows %v lots, minimum %v",
			ErrVolumeBelowMinimum, s.MarginCap, s.MaxVolumeByMargin, s.MinLot)
	}

	v := math.Min(s.RawVolume, math.Min(s.MaxVolumeByMargin, s.MaxLot))
	if v < s.MinLot {
		v = s.MinLot
	}
	s.Volume = floorToStep(v, spec.VolumeStep)
	return s, nil
}

func clampVolume(v float64, spec market.InstrumentSpec) float64 {
	if v < spec.VolumeMin {
		v = spec.VolumeMin
	}
	if spec.VolumeMax > 0 && v > spec.VolumeMax {
		v = spec.VolumeMax
	}
	return v
}

func floorToStep(v, step float64) float64 {
	return roundStep(math.Floor(v/step+stepEpsilon), step)
}

func ceilToStep(v, step float64) float64 {
	return roundStep(math.Ceil(v/step-stepEpsilon), step)
}

// roundStep drops float noise so 0.1+0.2 style results compare cleanly.
func roundStep(n, step float64) float64 {
	return math.Round(n*step*1e8) / 1e8
}
