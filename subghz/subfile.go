package subghz

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// The .sub storage format is a sequence of "Key: Value" lines. Only the
// keys below are interpreted; unknown keys are preserved on parse and
// ignored on marshal.
const (
	subKeyFiletype   = "Filetype"
	subKeyFrequency  = "Frequency"
	subKeyModulation = "Modulation"
	subKeyProtocol   = "Protocol"
	subKeyData       = "Data"

	subFiletype = "Flipper SubGhz Key File"
)

// ParseSub decodes the .sub text format into a Signal. Frequency values
// above 100 kHz are interpreted as Hz and converted to MHz, matching files
// written by the device itself.
func ParseSub(content []byte) (*Signal, error) {
	fields := make(map[string]string)
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	freqStr, ok := fields[subKeyFrequency]
	if !ok {
		return nil, fmt.Errorf("sub file missing Frequency")
	}
	freq, err := strconv.ParseFloat(freqStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid Frequency %q: %w", freqStr, err)
	}
	if freq > 100000 {
		freq /= 1e6
	}

	sig := &Signal{
		Frequency: freq,
		Protocol:  fields[subKeyProtocol],
	}

	if modStr, ok := fields[subKeyModulation]; ok {
		mod, err := ParseModulation(modStr)
		if err != nil {
			return nil, err
		}
		sig.Modulation = mod
	} else {
		sig.Modulation = ModulationASK
	}

	if dataStr, ok := fields[subKeyData]; ok && dataStr != "" {
		data, err := hex.DecodeString(strings.ReplaceAll(dataStr, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("invalid Data hex: %w", err)
		}
		sig.Data = data
	}
	return sig, nil
}

// MarshalSub encodes a Signal into the .sub text format.
func MarshalSub(sig *Signal) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s\n", subKeyFiletype, subFiletype)
	fmt.Fprintf(&sb, "%s: %d\n", subKeyFrequency, int64(sig.Frequency*1e6))
	if sig.Modulation != "" {
		fmt.Fprintf(&sb, "%s: %s\n", subKeyModulation, sig.Modulation)
	}
	if sig.Protocol != "" {
		fmt.Fprintf(&sb, "%s: %s\n", subKeyProtocol, sig.Protocol)
	}
	if len(sig.Data) > 0 {
		fmt.Fprintf(&sb, "%s: %s\n", subKeyData, hex.EncodeToString(sig.Data))
	}
	return []byte(sb.String())
}
