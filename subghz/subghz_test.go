package subghz

import "testing"

func TestParseModulation(t *testing.T) {
	for _, valid := range []string{"AM", "FM", "ASK", "FSK", "OOK", "PSK"} {
		if _, err := ParseModulation(valid); err != nil {
			t.Errorf("Expected %q to parse, got %v", valid, err)
		}
	}
	for _, invalid := range []string{"", "am", "QAM", "ask"} {
		if _, err := ParseModulation(invalid); err == nil {
			t.Errorf("Expected %q to be rejected", invalid)
		}
	}
}

func TestAllowedFrequency(t *testing.T) {
	tests := []struct {
		region string
		freq   float64
		want   bool
	}{
		{"US", 315.0, true},
		{"US", 433.92, true},
		{"US", 350.0, false},
		{"US", 900.0, false},
		{"EU", 433.92, true},
		{"EU", 299.0, false},
		{"XX", 433.92, false},
		{"", 433.92, false},
	}
	for _, tt := range tests {
		if got := AllowedFrequency(tt.region, tt.freq); got != tt.want {
			t.Errorf("AllowedFrequency(%q, %v): expected %v, got %v", tt.region, tt.freq, tt.want, got)
		}
	}
}

func TestProtocolLookup(t *testing.T) {
	p, ok := Protocol("KeeLoq")
	if !ok {
		t.Fatalf("Expected keeloq to be registered")
	}
	if p.Modulation != ModulationFSK {
		t.Errorf("Expected KeeLoq modulation FSK, got %s", p.Modulation)
	}

	if _, ok := Protocol("does-not-exist"); ok {
		t.Errorf("Expected unknown protocol to miss")
	}
}

func TestProtocolsForFrequency(t *testing.T) {
	matches := ProtocolsForFrequency(433.92, 0.1)
	if len(matches) == 0 {
		t.Fatalf("Expected protocols at 433.92 MHz")
	}
	for _, p := range matches {
		found := false
		for _, f := range p.Frequencies {
			if f >= 433.82 && f <= 434.02 {
				found = true
			}
		}
		if !found {
			t.Errorf("Protocol %s matched outside tolerance", p.Name)
		}
	}

	if got := ProtocolsForFrequency(100.0, 0.1); len(got) != 0 {
		t.Errorf("Expected no protocols at 100 MHz, got %d", len(got))
	}
}
