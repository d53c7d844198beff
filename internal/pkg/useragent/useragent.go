// Package useragent wraps mssola/useragent with the normalization rules the
// pipeline needs: stable lowercase browser names, canonical OS names and a
// coarse device type.
package useragent

import (
	"strconv"
	"strings"

	ua "github.com/mssola/useragent"
)

// Device type values used in summaries.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

// UserAgent holds the parsed, normalized fields of a user-agent string.
type UserAgent struct {
	Raw            string
	Browser        string
	BrowserVersion string
	OS             string
	Device         string
	Bot            bool
}

// Parse parses and normalizes a user-agent string. It never fails: anything
// unrecognizable comes back with empty browser/OS and device "unknown".
func Parse(raw string) UserAgent {
	if raw == "" {
		return UserAgent{Raw: raw, Device: DeviceUnknown}
	}

	parsed := ua.New(raw)
	out := UserAgent{Raw: raw, Bot: parsed.Bot()}

	if !out.Bot {
		name, version := parsed.Browser()
		osName := parsed.OSInfo().Name
		// The parser echoes the first token of an unrecognizable string back
		// as the browser name. A name with neither a version nor a detected
		// OS is that echo, not a real browser.
		if version != "" || osName != "" {
			out.Browser = NormalizeBrowser(name)
			out.BrowserVersion = version
			out.OS = NormalizeOS(osName)
		}
	}
	out.Device = deviceType(parsed, raw)
	return out
}

// MajorVersion returns the numeric major browser version, or 0 if unknown.
func (u UserAgent) MajorVersion() int {
	if u.BrowserVersion == "" {
		return 0
	}
	major, _, _ := strings.Cut(u.BrowserVersion, ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return 0
	}
	return n
}

// NormalizeBrowser maps parser browser names onto the stable lowercase set
// stored in breakdowns.
func NormalizeBrowser(name string) string {
	switch strings.ToLower(name) {
	case "":
		return ""
	case "internet explorer":
		return "ie"
	case "mobile safari":
		return "safari"
	case "chrome mobile", "chrome mobile webview", "chromium":
		return "chrome"
	case "firefox mobile":
		return "firefox"
	case "opera mini", "opera mobile":
		return "opera"
	case "edge mobile":
		return "edge"
	default:
		return strings.ToLower(name)
	}
}

// NormalizeOS standardizes operating system names.
func NormalizeOS(os string) string {
	if os == "" {
		return ""
	}
	lower := strings.ToLower(os)
	switch {
	// iOS strings mention "like Mac OS X", so they must be matched first.
	case strings.Contains(lower, "iphone") || lower == "ios" || strings.Contains(lower, "ipad"):
		return "iOS"
	case strings.Contains(lower, "mac") || strings.Contains(lower, "darwin"):
		return "MacOS"
	case strings.Contains(lower, "android"):
		return "Android"
	case strings.Contains(lower, "windows"):
		return "Windows"
	case strings.Contains(lower, "linux"):
		return "Linux"
	default:
		return strings.ToUpper(os[:1]) + strings.ToLower(os[1:])
	}
}

func deviceType(parsed *ua.UserAgent, raw string) string {
	if parsed.Bot() {
		return DeviceBot
	}

	lower := strings.ToLower(raw)
	// Tablets often carry "mobile" too, so check them first.
	if strings.Contains(lower, "tablet") || strings.Contains(lower, "ipad") {
		return DeviceTablet
	}
	if parsed.Mobile() || strings.Contains(lower, "iphone") || strings.Contains(lower, "windows phone") {
		return DeviceMobile
	}
	if parsed.OSInfo().Name != "" {
		return DeviceDesktop
	}
	return DeviceUnknown
}
