package domain

import (
	"math"
)

// Conversion is the credit and list-price value of a quantity of raw units.
type Conversion struct {
	EventKey string  `json:"event_key"`
	RawUnits float64 `json:"raw_units"`
	Credits  float64 `json:"credits"`
	Cost     float64 `json:"cost"`
}

// ValidateUnits rejects negative and non-finite quantities.
func ValidateUnits(rawUnits float64) error {
	if math.IsNaN(rawUnits) || math.IsInf(rawUnits, 0) || rawUnits < 0 {
		return ErrInvalidUnits
	}
	return nil
}

// Convert prices rawUnits against et at its current rates.
func Convert(et *MeteredEventType, rawUnits float64) (Conversion, error) {
	if et == nil {
		return Conversion{}, ErrUnknownEventType
	}
	if err := ValidateUnits(rawUnits); err != nil {
		return Conversion{}, err
	}
	credits := rawUnits * et.CreditsPerUnit
	return Conversion{
		EventKey: et.EventKey,
		RawUnits: rawUnits,
		Credits:  credits,
		Cost:     credits * et.ListPricePerCredit,
	}, nil
}
