// Package subghz models sub-GHz radio signals: modulation schemes, known
// remote-control protocols, and the text file format signals are stored in.
package subghz

import "fmt"

// Modulation identifies a signal modulation scheme.
type Modulation string

const (
	ModulationAM  Modulation = "AM"
	ModulationFM  Modulation = "FM"
	ModulationASK Modulation = "ASK"
	ModulationFSK Modulation = "FSK"
	ModulationOOK Modulation = "OOK"
	ModulationPSK Modulation = "PSK"
)

// ParseModulation validates a modulation string.
func ParseModulation(s string) (Modulation, error) {
	switch Modulation(s) {
	case ModulationAM, ModulationFM, ModulationASK, ModulationFSK, ModulationOOK, ModulationPSK:
		return Modulation(s), nil
	}
	return "", fmt.Errorf("unknown modulation: %q", s)
}

// Signal is a captured or synthesized sub-GHz transmission.
type Signal struct {
	Frequency  float64    `json:"frequency"` // MHz
	Modulation Modulation `json:"modulation"`
	Protocol   string     `json:"protocol,omitempty"`
	Data       []byte     `json:"data,omitempty"`
}

// Common carrier frequencies in MHz.
var CommonFrequencies = map[string]float64{
	"315": 315.0,
	"433": 433.92,
	"868": 868.35,
	"915": 915.0,
}

// frequencyRange is an allowed transmit band in MHz.
type frequencyRange struct {
	min, max       float64
	altMin, altMax float64
}

var regionRanges = map[string]frequencyRange{
	"US": {min: 299.999755, max: 348.000061, altMin: 387.252014, altMax: 464.0},
	"EU": {min: 299.999755, max: 348.000061, altMin: 387.252014, altMax: 464.0},
}

// AllowedFrequency reports whether freq (MHz) falls inside the region's
// permitted bands. Unknown regions allow nothing.
func AllowedFrequency(region string, freq float64) bool {
	r, ok := regionRanges[region]
	if !ok {
		return false
	}
	return (freq >= r.min && freq <= r.max) || (freq >= r.altMin && freq <= r.altMax)
}
