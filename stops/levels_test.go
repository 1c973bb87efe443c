package stops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskengine/market"
)

func TestSafeDistance(t *testing.T) {
	t.Parallel()

	spec := eurusd()
	// stops level 10 points, spread 2 points: ten points wins.
	assert.InDelta(t, 0.00012, SafeDistance(spec, 0.00002), 1e-12)
	// Wide spread dominates.
	assert.InDelta(t, 0.00042, SafeDistance(spec, 0.0002), 1e-12)

	spec.StopsLevel = 50
	assert.InDelta(t, 0.00052, SafeDistance(spec, 0.00002), 1e-12)
}

func TestLevels(t *testing.T) {
	t.Parallel()

	spec := eurusd()

	sl, tp, err := Levels(market.Long, 1.1, 0.0010, 1.5, 2.0, spec, 0.00002)
	require.NoError(t, err)
	assert.InDelta(t, 1.0985, sl, 1e-9)
	assert.InDelta(t, 1.1020, tp, 1e-9)

	sl, tp, err = Levels(market.Short, 1.1, 0.0010, 1.5, 2.0, spec, 0.00002)
	require.NoError(t, err)
	assert.InDelta(t, 1.1015, sl, 1e-9)
	assert.InDelta(t, 1.0980, tp, 1e-9)

	// A tiny ATR is widened to the safe distance.
	sl, tp, err = Levels(market.Long, 1.1, 0.00001, 1.5, 2.0, spec, 0.0002)
	require.NoError(t, err)
	assert.InDelta(t, 1.09958, sl, 1e-9)
	assert.InDelta(t, 1.10042, tp, 1e-9)

	_, _, err = Levels(market.Long, 1.1, 0, 1.5, 2.0, spec, 0)
	assert.Error(t, err)
	_, _, err = Levels(market.Long, 1.1, 0.001, 0, 2.0, spec, 0)
	assert.Error(t, err)
}
