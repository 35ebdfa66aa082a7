package subghz

import "strings"

// ProtocolInfo describes a known remote-control protocol.
type ProtocolInfo struct {
	Name        string
	Frequencies []float64 // MHz
	Modulation  Modulation
	BitRate     float64 // bits per second
	Deviation   float64 // Hz, FSK only
	MinRepeats  int
}

// protocols is the registry of protocols the device understands well enough
// to label captures with.
var protocols = map[string]ProtocolInfo{
	"princeton": {
		Name:        "Princeton",
		Frequencies: []float64{433.92},
		Modulation:  ModulationASK,
		BitRate:     2000,
		MinRepeats:  2,
	},
	"keeloq": {
		Name:        "KeeLoq",
		Frequencies: []float64{433.92, 434.42, 868.35},
		Modulation:  ModulationFSK,
		BitRate:     1500,
		Deviation:   50000,
		MinRepeats:  2,
	},
	"nice_flo": {
		Name:        "Nice FLO",
		Frequencies: []float64{433.92},
		Modulation:  ModulationAM,
		BitRate:     1000,
		MinRepeats:  3,
	},
	"chamberlain": {
		Name:        "Chamberlain",
		Frequencies: []float64{300.0, 390.0},
		Modulation:  ModulationOOK,
		BitRate:     2000,
		MinRepeats:  2,
	},
}

// Protocol looks up a protocol by name, case-insensitively.
func Protocol(name string) (ProtocolInfo, bool) {
	p, ok := protocols[strings.ToLower(name)]
	return p, ok
}

// ProtocolNames returns the registered protocol names.
func ProtocolNames() []string {
	names := make([]string, 0, len(protocols))
	for _, p := range protocols {
		names = append(names, p.Name)
	}
	return names
}

// ProtocolsForFrequency returns protocols operating within tolerance MHz of
// freq.
func ProtocolsForFrequency(freq, tolerance float64) []ProtocolInfo {
	var matching []ProtocolInfo
	for _, p := range protocols {
		for _, f := range p.Frequencies {
			if diff := f - freq; diff <= tolerance && diff >= -tolerance {
				matching = append(matching, p)
				break
			}
		}
	}
	return matching
}
