package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertMultipliesRates(t *testing.T) {
	cases := []struct {
		name    string
		perUnit float64
		price   float64
		units   float64
		credits float64
		cost    float64
	}{
		{name: "tool call", perUnit: 2, price: 0.02, units: 1, credits: 2, cost: 0.04},
		{name: "fractional rate", perUnit: 0.2, price: 0.02, units: 15, credits: 3, cost: 0.06},
		{name: "tiny per-row rate", perUnit: 0.001, price: 0.02, units: 2500, credits: 2.5, cost: 0.05},
		{name: "zero units", perUnit: 5, price: 0.02, units: 0, credits: 0, cost: 0},
		{name: "free event", perUnit: 0, price: 0.02, units: 10, credits: 0, cost: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			et := &MeteredEventType{EventKey: "evt", CreditsPerUnit: tc.perUnit, ListPricePerCredit: tc.price}
			conv, err := Convert(et, tc.units)
			require.NoError(t, err)
			assert.Equal(t, "evt", conv.EventKey)
			assert.InDelta(t, tc.credits, conv.Credits, 1e-9)
			assert.InDelta(t, tc.cost, conv.Cost, 1e-9)
			assert.InDelta(t, conv.Credits*tc.price, conv.Cost, 1e-12)
		})
	}
}

func TestConvertRejectsInvalidUnits(t *testing.T) {
	et := &MeteredEventType{EventKey: "evt", CreditsPerUnit: 1}
	for _, units := range []float64{-1, math.NaN(), math.Inf(1)} {
		_, err := Convert(et, units)
		assert.ErrorIs(t, err, ErrInvalidUnits)
	}

	_, err := Convert(nil, 1)
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestUnknownEventTypeErrorUnwraps(t *testing.T) {
	err := error(&UnknownEventTypeError{EventKey: "ghost", Inactive: true})
	assert.ErrorIs(t, err, ErrUnknownEventType)
	assert.Contains(t, err.Error(), "inactive")
}
