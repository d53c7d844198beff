// Package geoip resolves client IPs to countries using the optional GeoLite2
// database. A missing or broken database degrades to "unknown", never errors.
package geoip

import (
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"
	"github.com/pariz/gountries"

	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/config"
)

// UnknownCountry is recorded when no country can be resolved.
const UnknownCountry = "unknown"

var (
	geoDB     *geoip2.Reader
	once      sync.Once
	mu        sync.RWMutex
	logger    *slog.Logger
	dbPath    string
	countries = gountries.New()
)

// Init points the package at the configured GeoLite2 database path and
// logger. Must run before the first lookup; without it lookups resolve to
// UnknownCountry.
func Init(cfg *config.Config, l *slog.Logger) {
	logger = l
	dbPath = cfg.GeoDBPath
}

// initGeoDB opens the GeoLite2 database. Returns nil if it is not configured
// or not found (GeoIP is optional).
func initGeoDB() *geoip2.Reader {
	if dbPath == "" {
		if logger != nil {
			logger.Debug("GeoIP database path not configured - GeoIP disabled")
		}
		return nil
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		if logger != nil {
			logger.Info("GeoLite2 database not found - GeoIP disabled",
				slog.String("path", dbPath),
				slog.String("hint", "Download from https://www.maxmind.com/en/geolite2/signup"))
		}
		return nil
	} else if err != nil {
		if logger != nil {
			logger.Warn("Error checking GeoLite2 database file",
				slog.String("path", dbPath),
				slog.Any("error", err))
		}
		return nil
	}

	db, err := geoip2.Open(dbPath)
	if err != nil {
		if logger != nil {
			logger.Error("Failed to open GeoLite2 database",
				slog.String("path", dbPath),
				slog.Any("error", err))
		}
		return nil
	}

	if logger != nil {
		logger.Info("GeoLite2 database initialized", slog.String("path", dbPath))
	}
	return db
}

// getGeoDB returns the GeoLite2 reader, initializing it if necessary.
func getGeoDB() *geoip2.Reader {
	once.Do(func() {
		mu.Lock()
		geoDB = initGeoDB()
		mu.Unlock()
	})
	mu.RLock()
	defer mu.RUnlock()
	return geoDB
}

// CountryCode resolves an IP address to a lowercase ISO country code or
// UnknownCountry.
func CountryCode(ipAddress string) string {
	db := getGeoDB()
	if db == nil {
		return UnknownCountry
	}

	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return UnknownCountry
	}

	record, err := db.Country(ip)
	if err != nil {
		if logger != nil {
			logger.Debug("GeoIP lookup failed",
				slog.String("ip_address", ipAddress),
				slog.Any("error", err))
		}
		return UnknownCountry
	}

	iso := record.Country.IsoCode
	if iso == "" || iso == "--" {
		return UnknownCountry
	}
	return strings.ToLower(iso)
}

// CountryName returns the English country name for a lowercase ISO code, or
// the code itself when it cannot be resolved.
func CountryName(code string) string {
	if code == "" || code == UnknownCountry {
		return UnknownCountry
	}
	country, err := countries.FindCountryByAlpha(strings.ToUpper(code))
	if err != nil {
		return code
	}
	return country.Name.Common
}
