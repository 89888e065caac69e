// Package settings holds the per-printer connection settings and their
// JSON persistence.
package settings

import (
	"github.com/hashicorp/go-hclog"
)

// Recognized printer type tags.
const (
	TypeOcto = "OctoPrint"
	TypeDuet = "Duet3D"
)

// PrinterConfig describes how to reach one printer. It is loaded once at
// startup and not changed by the monitor afterwards.
type PrinterConfig struct {
	Type     string `json:"type"` // TypeOcto or TypeDuet
	APIKey   string `json:"apiKey"`
	Server   string `json:"server"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Pass     string `json:"pass"`
	Nickname string `json:"nickname"`
	IsActive bool   `json:"isActive"`
	Mock     bool   `json:"mock"`
}

// Default returns the settings of an unused printer slot.
func Default() PrinterConfig {
	return PrinterConfig{
		Type:   TypeOcto,
		Server: "octopi.local",
		Port:   80,
	}
}

// DisplayName is the nickname, else the server, else "Inactive".
func (c PrinterConfig) DisplayName() string {
	switch {
	case c.Nickname != "":
		return c.Nickname
	case c.Server != "":
		return c.Server
	}
	return "Inactive"
}

// LogSettings writes the record at debug level. Secrets are masked.
func (c PrinterConfig) LogSettings(logger hclog.Logger) {
	logger.Debug("printer settings",
		"nickname", c.Nickname,
		"type", c.Type,
		"active", c.IsActive,
		"server", c.Server,
		"port", c.Port,
		"api_key", mask(c.APIKey),
		"user", c.User,
		"pass", mask(c.Pass),
		"mock", c.Mock,
	)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
