package phi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInterpretZeroWithNoSamples(t *testing.T) {
	d := New(8)
	assert.Equal(t, 0.0, d.Interpret("peer1", time.Now()))
}

func TestRegularHeartbeatsKeepPhiLow(t *testing.T) {
	d := New(8)
	base := time.Now()
	for i := 0; i < 20; i++ {
		d.Report("peer1", base.Add(time.Duration(i)*time.Second))
	}

	phi := d.Interpret("peer1", base.Add(20*time.Second+500*time.Millisecond))
	assert.Less(t, phi, 8.0)
}

func TestLongSilenceRaisesPhiAndConvicts(t *testing.T) {
	d := New(1)
	base := time.Now()
	for i := 0; i < 20; i++ {
		d.Report("peer1", base.Add(time.Duration(i)*time.Second))
	}

	var convicted string
	var convictedPhi float64
	d.Subscribe(func(peer string, phiValue float64) {
		convicted = peer
		convictedPhi = phiValue
	})

	phiValue := d.Interpret("peer1", base.Add(20*time.Second+2*time.Minute))
	assert.Equal(t, "peer1", convicted)
	assert.Greater(t, convictedPhi, 1.0)
	assert.Greater(t, phiValue, 1.0)
}

func TestRemoveDropsWindow(t *testing.T) {
	d := New(8)
	base := time.Now()
	d.Report("peer1", base)
	d.Report("peer1", base.Add(time.Second))

	d.Remove("peer1")
	assert.Equal(t, 0.0, d.Interpret("peer1", base.Add(2*time.Second)))
}
