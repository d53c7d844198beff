// Package referrers maps referrer hostnames onto friendly display names for
// summary breakdowns.
package referrers

import (
	"net/url"
	"strings"
)

// Direct is recorded when an event carried no usable referrer.
const Direct = "direct"

// Common referrer hostnames mapped to friendly display names
var knownReferrers = map[string]string{
	// Search engines
	"google.com":     "Google",
	"google.co.uk":   "Google",
	"google.de":      "Google",
	"google.fr":      "Google",
	"google.es":      "Google",
	"google.it":      "Google",
	"google.ca":      "Google",
	"google.com.au":  "Google",
	"google.co.jp":   "Google",
	"google.com.br":  "Google",
	"bing.com":       "Bing",
	"duckduckgo.com": "DuckDuckGo",
	"yahoo.com":      "Yahoo",
	"baidu.com":      "Baidu",
	"yandex.ru":      "Yandex",
	"ecosia.org":     "Ecosia",
	"kagi.com":       "Kagi",

	// Social media
	"x.com":                "X/Twitter",
	"twitter.com":          "X/Twitter",
	"t.co":                 "X/Twitter",
	"facebook.com":         "Facebook",
	"fb.com":               "Facebook",
	"l.facebook.com":       "Facebook",
	"instagram.com":        "Instagram",
	"l.instagram.com":      "Instagram",
	"linkedin.com":         "LinkedIn",
	"lnkd.in":              "LinkedIn",
	"tiktok.com":           "TikTok",
	"pinterest.com":        "Pinterest",
	"reddit.com":           "Reddit",
	"old.reddit.com":       "Reddit",
	"threads.net":          "Threads",
	"bsky.app":             "Bluesky",
	"youtube.com":          "YouTube",
	"youtu.be":             "YouTube",
	"discord.com":          "Discord",
	"t.me":                 "Telegram",
	"news.ycombinator.com": "Hacker News",
	"producthunt.com":      "Product Hunt",

	// Link shorteners
	"bit.ly":      "Bitly",
	"tinyurl.com": "TinyURL",
}

// Hostname extracts the lowercase hostname from a referrer URL, or Direct
// when the referrer is empty or unparseable.
func Hostname(referrer string) string {
	if referrer == "" {
		return Direct
	}
	parsed, err := url.Parse(referrer)
	if err != nil || parsed.Hostname() == "" {
		return Direct
	}
	return strings.ToLower(parsed.Hostname())
}

// IsSelfReferral reports whether a referrer hostname matches the site's own
// domain. Only exact domain matches count (privacy-first approach).
func IsSelfReferral(hostname, siteDomain string) bool {
	if hostname == "" || hostname == Direct || siteDomain == "" {
		return false
	}
	return strings.ToLower(hostname) == strings.ToLower(siteDomain)
}

// FriendlyName returns a human-friendly name for a referrer hostname.
// If the hostname is not in the known list, it returns the hostname
// with common prefixes like "www." removed and first letter capitalized.
func FriendlyName(hostname string) string {
	if hostname == "" || hostname == Direct {
		return "Direct"
	}
	hostname = strings.ToLower(hostname)

	if name, ok := knownReferrers[hostname]; ok {
		return name
	}

	if strings.HasPrefix(hostname, "www.") {
		withoutWWW := hostname[4:]
		if name, ok := knownReferrers[withoutWWW]; ok {
			return name
		}
		hostname = withoutWWW
	}

	for domain, name := range knownReferrers {
		if strings.HasSuffix(hostname, "."+domain) {
			return name
		}
	}

	return capitalizeFirst(hostname)
}

func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
