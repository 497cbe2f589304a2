package xhci

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is the device/profile configuration the external CLI-parser
// collaborator (§1, out of scope) is expected to produce before
// constructing a Controller. It is intentionally small: the command-line
// surface itself lives outside this core, but the core still needs a
// typed, validated settings object rather than loose constructor
// arguments, so it is modeled here the way canonical-snapd's daemon and
// overlord packages model their own on-disk settings — a plain struct
// unmarshaled with yaml.v3 and validated before use.
type Config struct {
	// Profile selects the extended-capability layout (§6.3):
	// "default" or "vendor-drd".
	Profile string `yaml:"profile"`

	// VendorID/ProductID are the PCI ids presented in configuration
	// space (§6.1); chosen from the selected profile unless overridden.
	VendorID  uint16 `yaml:"vendor_id"`
	ProductID uint16 `yaml:"product_id"`

	// Whitelist lists the physical USB paths ("bus:depth:path")
	// eligible for pass-through (§3 Virtual-port binding, FREE ->
	// ASSIGNED transition).
	Whitelist []string `yaml:"whitelist"`

	// PortSpeeds names a speed class for specific root-hub ports, keyed
	// by 1-based port number, and is checked by ParseConfig.
	// NewController does not apply it: every port keeps the
	// USB3-low-half/USB2-high-half convention of §3 Port.
	PortSpeeds map[int]string `yaml:"port_speeds"`
}

// ParseConfig unmarshals and validates a YAML configuration document.
// Per §7 ("Configuration errors at device construction ... are fatal to
// initialization; the device never enters the bus"), any error here must
// be surfaced before NewController touches a single slot or port.
func ParseConfig(doc []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(doc, &cfg); err != nil {
		return nil, fmt.Errorf("xhci: parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Profile {
	case "", "default":
		c.Profile = "default"
	case "vendor-drd":
	default:
		return fmt.Errorf("xhci: unsupported extended-capability profile %q", c.Profile)
	}

	for _, path := range c.Whitelist {
		if path == "" {
			return fmt.Errorf("xhci: empty whitelist entry")
		}
	}

	for port, speed := range c.PortSpeeds {
		if port < 1 || port > MaxDevs {
			return fmt.Errorf("xhci: port_speeds entry for out-of-range port %d", port)
		}
		switch speed {
		case "full", "low", "high", "super":
		default:
			return fmt.Errorf("xhci: port %d has unsupported speed class %q", port, speed)
		}
	}

	return nil
}

func (c *Config) profile() Profile {
	if c.Profile == "vendor-drd" {
		return ProfileVendorDRD
	}
	return ProfileDefault
}
