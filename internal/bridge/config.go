package bridge

import (
	"fmt"
	"net/netip"

	"github.com/go-ini/ini"
)

// LoadConfig reads the bridge's INI configuration file: sections
// [serial] (device), [wifi] (device, subnet), [border-router] (ipv6), and
// [metrics] (en, bw, etx). This is the one ambient concern the spec's
// non-goals name as an external collaborator; a real parser is still used
// rather than a hand-rolled format.
func LoadConfig(path string) (Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}

	var cfg Config
	cfg.SerialDevice = f.Section("serial").Key("device").String()
	cfg.WifiDevice = f.Section("wifi").Key("device").String()
	cfg.WifiSubnet = f.Section("wifi").Key("subnet").String()

	brIP := f.Section("border-router").Key("ipv6").String()
	if brIP != "" {
		addr, err := netip.ParseAddr(brIP)
		if err != nil {
			return Config{}, fmt.Errorf("config: border-router.ipv6 %q: %w", brIP, err)
		}
		cfg.BorderRouterIPv6 = addr
	}

	metrics := f.Section("metrics")
	cfg.Metrics.EN, _ = metrics.Key("en").Int()
	cfg.Metrics.BW, _ = metrics.Key("bw").Int()
	cfg.Metrics.ETX, _ = metrics.Key("etx").Int()

	if cfg.SerialDevice == "" {
		return Config{}, fmt.Errorf("config: [serial] device is required")
	}
	if cfg.WifiDevice == "" {
		return Config{}, fmt.Errorf("config: [wifi] device is required")
	}

	return cfg, nil
}
