package subghz

import (
	"bytes"
	"testing"
)

func TestParseSub(t *testing.T) {
	content := []byte(`Filetype: Flipper SubGhz Key File
Version: 1
Frequency: 433920000
Modulation: FSK
Protocol: KeeLoq
Data: deadbeef
`)

	sig, err := ParseSub(content)
	if err != nil {
		t.Fatalf("ParseSub failed: %v", err)
	}
	if sig.Frequency != 433.92 {
		t.Errorf("Expected frequency converted to 433.92 MHz, got %v", sig.Frequency)
	}
	if sig.Modulation != ModulationFSK {
		t.Errorf("Expected FSK, got %s", sig.Modulation)
	}
	if sig.Protocol != "KeeLoq" {
		t.Errorf("Expected protocol KeeLoq, got %q", sig.Protocol)
	}
	if !bytes.Equal(sig.Data, []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Errorf("Expected data deadbeef, got %x", sig.Data)
	}
}

func TestParseSubFrequencyAlreadyMHz(t *testing.T) {
	sig, err := ParseSub([]byte("Frequency: 433.92\n"))
	if err != nil {
		t.Fatalf("ParseSub failed: %v", err)
	}
	if sig.Frequency != 433.92 {
		t.Errorf("Expected 433.92, got %v", sig.Frequency)
	}
	// Modulation defaults to ASK when absent.
	if sig.Modulation != ModulationASK {
		t.Errorf("Expected default modulation ASK, got %s", sig.Modulation)
	}
}

func TestParseSubMissingFrequency(t *testing.T) {
	if _, err := ParseSub([]byte("Modulation: AM\n")); err == nil {
		t.Errorf("Expected error for file without Frequency")
	}
}

func TestParseSubBadData(t *testing.T) {
	if _, err := ParseSub([]byte("Frequency: 433.92\nData: not-hex\n")); err == nil {
		t.Errorf("Expected error for invalid hex data")
	}
	if _, err := ParseSub([]byte("Frequency: 433.92\nModulation: QAM\n")); err == nil {
		t.Errorf("Expected error for unknown modulation")
	}
}

func TestParseSubIgnoresCommentsAndBlankLines(t *testing.T) {
	content := []byte(`# captured at the gate

Frequency: 315000000
`)
	sig, err := ParseSub(content)
	if err != nil {
		t.Fatalf("ParseSub failed: %v", err)
	}
	if sig.Frequency != 315.0 {
		t.Errorf("Expected 315.0, got %v", sig.Frequency)
	}
}

func TestMarshalSubRoundTrip(t *testing.T) {
	sig := &Signal{
		Frequency:  433.92,
		Modulation: ModulationOOK,
		Protocol:   "Princeton",
		Data:       []byte{0x01, 0x02, 0xab},
	}

	parsed, err := ParseSub(MarshalSub(sig))
	if err != nil {
		t.Fatalf("ParseSub of marshaled signal failed: %v", err)
	}
	if parsed.Frequency != sig.Frequency {
		t.Errorf("Frequency: expected %v, got %v", sig.Frequency, parsed.Frequency)
	}
	if parsed.Modulation != sig.Modulation {
		t.Errorf("Modulation: expected %s, got %s", sig.Modulation, parsed.Modulation)
	}
	if parsed.Protocol != sig.Protocol {
		t.Errorf("Protocol: expected %q, got %q", sig.Protocol, parsed.Protocol)
	}
	if !bytes.Equal(parsed.Data, sig.Data) {
		t.Errorf("Data: expected %x, got %x", sig.Data, parsed.Data)
	}
}
