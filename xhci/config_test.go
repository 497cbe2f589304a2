package xhci

import "testing"

func TestParseConfigDefaultsEmptyProfileToDefault(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{}`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Profile != "default" {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, "default")
	}
}

func TestParseConfigAcceptsVendorDRDProfile(t *testing.T) {
	cfg, err := ParseConfig([]byte("profile: vendor-drd\n"))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Profile != "vendor-drd" {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, "vendor-drd")
	}
}

func TestParseConfigRejectsUnknownProfile(t *testing.T) {
	_, err := ParseConfig([]byte("profile: bogus\n"))
	if err == nil {
		t.Fatal("expected an error for an unsupported profile")
	}
}

func TestParseConfigRejectsMalformedYAML(t *testing.T) {
	_, err := ParseConfig([]byte("profile: [unterminated\n"))
	if err == nil {
		t.Fatal("expected an error for malformed YAML")
	}
}

func TestParseConfigRejectsEmptyWhitelistEntry(t *testing.T) {
	_, err := ParseConfig([]byte("whitelist:\n  - \"\"\n"))
	if err == nil {
		t.Fatal("expected an error for an empty whitelist entry")
	}
}

func TestParseConfigAcceptsValidWhitelist(t *testing.T) {
	cfg, err := ParseConfig([]byte("whitelist:\n  - \"1:0:1\"\n  - \"1:1:1.2\"\n"))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if len(cfg.Whitelist) != 2 {
		t.Fatalf("Whitelist = %v, want 2 entries", cfg.Whitelist)
	}
}

func TestParseConfigRejectsOutOfRangePortSpeed(t *testing.T) {
	_, err := ParseConfig([]byte("port_speeds:\n  0: high\n"))
	if err == nil {
		t.Fatal("expected an error for port 0 in port_speeds (ports are 1-based)")
	}
}

func TestParseConfigRejectsUnsupportedSpeedClass(t *testing.T) {
	_, err := ParseConfig([]byte("port_speeds:\n  1: warp\n"))
	if err == nil {
		t.Fatal("expected an error for an unsupported speed class string")
	}
}

func TestParseConfigAcceptsAllSpeedClasses(t *testing.T) {
	doc := "port_speeds:\n  1: full\n  2: low\n  3: high\n  4: super\n"
	cfg, err := ParseConfig([]byte(doc))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if len(cfg.PortSpeeds) != 4 {
		t.Fatalf("PortSpeeds = %v, want 4 entries", cfg.PortSpeeds)
	}
}

func TestConfigProfileMapping(t *testing.T) {
	if (&Config{Profile: "vendor-drd"}).profile() != ProfileVendorDRD {
		t.Fatal("vendor-drd string did not map to ProfileVendorDRD")
	}
	if (&Config{Profile: "default"}).profile() != ProfileDefault {
		t.Fatal("default string did not map to ProfileDefault")
	}
	if (&Config{}).profile() != ProfileDefault {
		t.Fatal("zero-value Profile did not map to ProfileDefault")
	}
}
