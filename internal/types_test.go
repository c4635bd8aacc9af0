package internal

import "testing"

func TestProviderIdentity_Names(t *testing.T) {
	tests := []struct {
		p       ProviderIdentity
		name    string
		display string
	}{
		{ProviderQuark, "quark", "夸克网盘"},
		{ProviderBaidu, "baidu", "百度网盘"},
		{ProviderUnknown, "unknown", "其他"},
	}

	for _, tt := range tests {
		if tt.p.Name() != tt.name {
			t.Errorf("Name() = %q, want %q", tt.p.Name(), tt.name)
		}
		if tt.p.DisplayName() != tt.display {
			t.Errorf("DisplayName() = %q, want %q", tt.p.DisplayName(), tt.display)
		}
		if tt.p != ProviderUnknown && ParseProvider(tt.name) != tt.p {
			t.Errorf("ParseProvider(%q) did not round trip", tt.name)
		}
		if tt.p != ProviderUnknown && ParseProvider(tt.display) != tt.p {
			t.Errorf("ParseProvider(%q) did not round trip", tt.display)
		}
	}

	if ParseProvider("aliyun") != ProviderUnknown {
		t.Error("unsupported provider names should parse as unknown")
	}
}

func TestDestinationPreferences_Enabled(t *testing.T) {
	prefs := DestinationPreferences{Quark: true}

	if !prefs.Enabled(ProviderQuark) {
		t.Error("quark should be enabled")
	}
	if prefs.Enabled(ProviderBaidu) {
		t.Error("baidu should be disabled")
	}
	if (DestinationPreferences{Quark: true, Baidu: true}).Enabled(ProviderUnknown) {
		t.Error("unknown provider is never enabled")
	}
}

func TestAddressingScheme_String(t *testing.T) {
	if AddressByID.String() != "id" || AddressByPath.String() != "path" {
		t.Error("unexpected addressing scheme names")
	}
}
