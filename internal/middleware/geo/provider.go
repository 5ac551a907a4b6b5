// Package geo looks up the country/city of a client IP from a MaxMind
// (.mmdb) or IPIP (.ipdb) database and applies allow/deny country/city
// filtering, per Config.Geo.
package geo

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Result holds a single geolocation lookup's outcome.
type Result struct {
	CountryCode string // ISO 3166-1 alpha-2 (e.g. "US")
	CountryName string
	City        string
}

// Provider performs IP-to-location lookups.
type Provider interface {
	Lookup(ip string) (*Result, error)
	Close() error
}

// NewProvider auto-detects the database format from its file extension.
func NewProvider(path string) (Provider, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mmdb":
		return newMMDBProvider(path)
	case ".ipdb":
		return newIPDBProvider(path)
	default:
		return nil, fmt.Errorf("unsupported geo database format: %s (expected .mmdb or .ipdb)", ext)
	}
}
