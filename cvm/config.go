package cvm

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Quote providers.
const (
	ProviderIoctl    = "ioctl"
	ProviderConfigfs = "configfs"
)

const (
	// TeeAuto detects the TEE type from the guest device nodes.
	TeeAuto = "auto"

	// DefaultEventLogPath is where the kernel exposes the CC event log area.
	DefaultEventLogPath = "/sys/firmware/acpi/tables/data/CCEL"
	// DefaultCCELTablePath is where the kernel exposes the CCEL ACPI table.
	DefaultCCELTablePath = "/sys/firmware/acpi/tables/CCEL"
)

// Config selects and parametrizes the confidential VM backend.
type Config struct {
	// Tee is a TEE type name or "auto".
	Tee string `json:"tee"`
	// QuoteProvider is "ioctl" or "configfs".
	QuoteProvider string `json:"quoteProvider"`
	EventLogPath  string `json:"eventLogPath"`
	// CCELTablePath may point to a missing file, in which case the whole event log is parsed.
	CCELTablePath string `json:"ccelTablePath"`
}

// DefaultConfig returns a Config that detects the TEE and talks to the guest device directly.
func DefaultConfig() Config {
	return Config{
		Tee:           TeeAuto,
		QuoteProvider: ProviderIoctl,
		EventLogPath:  DefaultEventLogPath,
		CCELTablePath: DefaultCCELTablePath,
	}
}

// LoadConfig reads a JSON config file. Fields missing from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) teeType() (TeeType, error) {
	if c.Tee == "" || strings.EqualFold(c.Tee, TeeAuto) {
		return DetectTeeType(), nil
	}
	return ParseTeeType(c.Tee)
}
