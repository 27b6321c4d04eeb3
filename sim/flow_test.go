package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEWMA_FirstSampleTakenDirectly(t *testing.T) {
	e := NewEWMA(1.0 / 8.0)
	assert.False(t, e.Seen())
	assert.Equal(t, 0.0, e.Value())

	e.Update(100)
	assert.True(t, e.Seen())
	assert.Equal(t, 100.0, e.Value())
}

func TestEWMA_SmoothsSubsequentSamples(t *testing.T) {
	e := NewEWMA(1.0 / 8.0)
	e.Update(100)
	e.Update(200)
	// 100 + (200-100)/8
	assert.InDelta(t, 112.5, e.Value(), 1e-12)
}

func TestEWMA_Reset(t *testing.T) {
	e := NewEWMA(0.5)
	e.Update(10)
	e.Reset()
	assert.False(t, e.Seen())
	assert.Equal(t, 0.0, e.Value())

	// After a reset the next sample is taken directly again.
	e.Update(30)
	assert.Equal(t, 30.0, e.Value())
}

func TestFlow_StartsWithInitialCongestionState(t *testing.T) {
	f := newFlow(0)
	assert.Equal(t, uint32(1), f.Window())
	assert.Equal(t, int64(0), f.intersendTicks)
	assert.Equal(t, uint64(0), f.Inflight())
}

func TestFlow_Observation_RatioDefaultsToOne(t *testing.T) {
	f := newFlow(0)
	obs := f.Observation()
	assert.Equal(t, 1.0, obs.RTTRatio, "ratio is 1.0 before any RTT sample")
	assert.Equal(t, 0.0, obs.AckEWMA)
	assert.Equal(t, 0.0, obs.SendEWMA)
}

func TestFlow_Observation_RatioFromMeters(t *testing.T) {
	f := newFlow(0)
	f.minRTTTicks = 100_000
	f.currentRTTTicks = 150_000
	assert.InDelta(t, 1.5, f.Observation().RTTRatio, 1e-12)
}

func TestFlow_RTO_InitialBeforeFirstSample(t *testing.T) {
	sc := &Scenario{RTO: RTOSpec{InitialMillis: 1000, MinMillis: 10, Multiplier: 2.0}}
	f := newFlow(0)
	assert.Equal(t, MillisToTicks(1000), f.rto(sc))
}

func TestFlow_RTO_TracksSmoothedRTT(t *testing.T) {
	sc := &Scenario{RTO: RTOSpec{InitialMillis: 1000, MinMillis: 10, Multiplier: 2.0}}
	f := newFlow(0)

	f.srttTicks.Update(50_000) // 50ms
	assert.Equal(t, int64(100_000), f.rto(sc))

	// The minimum floors a tiny srtt.
	f.srttTicks.Reset()
	f.srttTicks.Update(3_000)
	assert.Equal(t, MillisToTicks(10), f.rto(sc))
}

func TestFlow_ResetCCA_ClearsPolicyMemory(t *testing.T) {
	f := newFlow(0)
	f.window = 50
	f.intersendTicks = 777
	f.ackEWMA.Update(5)
	f.srttTicks.Update(100_000)
	f.minRTTTicks = 90_000
	f.currentRTTTicks = 120_000
	f.lastAckTime = 42

	f.resetCCA()

	assert.Equal(t, uint32(1), f.window)
	assert.Equal(t, int64(0), f.intersendTicks)
	assert.False(t, f.ackEWMA.Seen())
	assert.False(t, f.srttTicks.Seen())
	assert.Equal(t, int64(-1), f.lastAckTime)
	assert.Equal(t, 1.0, f.Observation().RTTRatio)
}

func TestFlow_Inflight(t *testing.T) {
	f := newFlow(0)
	f.packetsSent = 10
	f.ackedHighWater = 7
	assert.Equal(t, uint64(3), f.Inflight())
}
