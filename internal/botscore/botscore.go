// Package botscore classifies requests as bot or human from the user-agent
// and request headers. The heuristic is a fixed-order list of weighted rules;
// user-agent scores are memoized in a bounded TTL cache.
package botscore

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.elara.ws/pcre"

	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/config"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/pkg/ttlcache"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/pkg/useragent"
)

// BotThreshold is the score at or above which a request counts as a bot.
const BotThreshold = 70

const maxScore = 100

var (
	crawlerPattern     = `(?i)(bot|crawl|spider|scrape|slurp|fetch|scan|monitor|archive|wget|curl|python-requests|python-urllib|httpclient|java/|go-http-client|libwww|phantomjs|headless)`
	badReferrerPattern = `(?i)(semalt\.|buttons-for-website|best-seo-offer|darodar\.|7makemoneyonline)`
)

// Compiled regex cache, lazily populated.
type regexCache struct {
	compiled map[string]*pcre.Regexp
	mutex    sync.RWMutex
}

func newRegexCache() *regexCache {
	return &regexCache{compiled: make(map[string]*pcre.Regexp)}
}

func (rc *regexCache) match(pattern, s string) bool {
	rc.mutex.RLock()
	regex, exists := rc.compiled[pattern]
	rc.mutex.RUnlock()

	if !exists {
		rc.mutex.Lock()
		regex, exists = rc.compiled[pattern]
		if !exists {
			var err error
			regex, err = pcre.Compile(pattern)
			if err != nil {
				rc.mutex.Unlock()
				return false
			}
			rc.compiled[pattern] = regex
		}
		rc.mutex.Unlock()
	}
	return regex.MatchString(s)
}

// signals is what the rules look at.
type signals struct {
	rawUA   string
	parsed  useragent.UserAgent
	headers map[string]string
}

func (s signals) header(name string) string {
	return s.headers[strings.ToLower(name)]
}

// rule is one entry of the scoring heuristic. Rules run in declaration
// order; a matching short-circuit rule ends evaluation at its weight.
type rule struct {
	name         string
	weight       int
	shortCircuit bool
	match        func(signals) bool
}

// Classifier scores requests. Safe for concurrent use.
type Classifier struct {
	uaRules     []rule
	headerRules []rule
	regexes     *regexCache
	cache       *ttlcache.Cache[int]
	logger      *slog.Logger
}

// New creates a Classifier with the memo cache sized from config.
func New(cfg *config.Config, logger *slog.Logger) *Classifier {
	c := &Classifier{
		regexes: newRegexCache(),
		cache: ttlcache.New[int](ttlcache.Options{
			TTL:           cfg.BotCacheTTL(),
			MaxEntries:    cfg.BotCacheMaxSize,
			SweepInterval: time.Duration(cfg.BotCacheSweepSeconds) * time.Second,
		}),
		logger: logger,
	}
	c.uaRules = c.buildUARules()
	c.headerRules = c.buildHeaderRules()
	return c
}

// Score returns 0..100, higher meaning more bot-like. Pure for fixed input;
// never errors, unparseable input degrades to a conservative score.
func (c *Classifier) Score(userAgent string, headers map[string]string) int {
	sig := signals{
		rawUA:   userAgent,
		parsed:  useragent.Parse(userAgent),
		headers: lowercaseKeys(headers),
	}

	// Header short-circuits always run; they are request-specific and must
	// not be satisfied from the per-UA memo.
	for _, r := range c.headerRules {
		if r.shortCircuit && r.match(sig) {
			return r.weight
		}
	}

	base, ok := c.cache.Get(userAgent)
	if ok {
		// Keep frequently seen user-agents memoized across sweeps.
		c.cache.Touch(userAgent)
	} else {
		base = c.scoreUserAgent(sig)
		c.cache.Set(userAgent, base)
	}
	if base >= maxScore {
		return maxScore
	}

	score := base
	for _, r := range c.headerRules {
		if !r.shortCircuit && r.match(sig) {
			score += r.weight
		}
	}
	if score > maxScore {
		score = maxScore
	}
	return score
}

// Sweep evicts expired memo entries. Called from the periodic sweep timer.
func (c *Classifier) Sweep() {
	c.cache.Sweep()
}

// IsBot reports whether the request scores at or above BotThreshold.
func (c *Classifier) IsBot(userAgent string, headers map[string]string) bool {
	return c.Score(userAgent, headers) >= BotThreshold
}

func (c *Classifier) scoreUserAgent(sig signals) int {
	score := 0
	for _, r := range c.uaRules {
		if !r.match(sig) {
			continue
		}
		if r.shortCircuit {
			return r.weight
		}
		score += r.weight
	}
	if score > maxScore {
		score = maxScore
	}
	return score
}

func (c *Classifier) buildUARules() []rule {
	return []rule{
		{
			name: "missing_or_short_ua", weight: 80, shortCircuit: true,
			match: func(s signals) bool { return len(s.rawUA) < 10 },
		},
		{
			name: "known_bot_signature", weight: maxScore, shortCircuit: true,
			match: func(s signals) bool { return s.parsed.Bot },
		},
		{
			name: "crawler_name_pattern", weight: maxScore, shortCircuit: true,
			match: func(s signals) bool { return c.regexes.match(crawlerPattern, s.rawUA) },
		},
		{
			name: "spider_device_type", weight: maxScore, shortCircuit: true,
			match: func(s signals) bool { return s.parsed.Device == useragent.DeviceBot },
		},
		{
			name: "oversized_ua", weight: 20,
			match: func(s signals) bool { return len(s.rawUA) > 512 },
		},
		{
			name: "unparseable_long_ua", weight: 30,
			match: func(s signals) bool {
				return s.parsed.Browser == "" && s.parsed.OS == "" && len(s.rawUA) > 200
			},
		},
		{
			name: "stale_browser_version", weight: 15,
			match: func(s signals) bool { return staleBrowser(s.parsed) },
		},
	}
}

func (c *Classifier) buildHeaderRules() []rule {
	return []rule{
		{
			name: "automation_header", weight: maxScore, shortCircuit: true,
			match: func(s signals) bool {
				for _, h := range []string{"x-automation", "x-selenium", "x-puppeteer", "x-playwright", "x-headless"} {
					if s.header(h) != "" {
						return true
					}
				}
				return false
			},
		},
		{
			name: "headless_platform_hint", weight: maxScore, shortCircuit: true,
			match: func(s signals) bool {
				return strings.Contains(strings.ToLower(s.header("sec-ch-ua-platform")), "headless") ||
					strings.Contains(strings.ToLower(s.header("sec-ch-ua")), "headless")
			},
		},
		{
			name: "missing_accept", weight: 15,
			match: func(s signals) bool { return s.header("accept") == "" },
		},
		{
			name: "missing_accept_language", weight: 20,
			match: func(s signals) bool { return s.header("accept-language") == "" },
		},
		{
			name: "missing_accept_encoding", weight: 10,
			match: func(s signals) bool { return s.header("accept-encoding") == "" },
		},
		{
			name: "non_content_accept", weight: 10,
			match: func(s signals) bool {
				accept := s.header("accept")
				if accept == "" {
					return false
				}
				return !strings.Contains(accept, "text/html") &&
					!strings.Contains(accept, "application/json") &&
					!strings.Contains(accept, "*/*")
			},
		},
		{
			name: "suspicious_referrer", weight: 30,
			match: func(s signals) bool {
				ref := s.header("referer")
				return ref != "" && c.regexes.match(badReferrerPattern, ref)
			},
		},
	}
}

// staleBrowser flags major browser versions old enough that no real user
// still runs them.
func staleBrowser(parsed useragent.UserAgent) bool {
	major := parsed.MajorVersion()
	if major == 0 {
		return false
	}
	switch parsed.Browser {
	case "chrome":
		return major < 70
	case "firefox":
		return major < 60
	case "safari":
		return major < 11
	case "edge":
		return major < 80
	default:
		return false
	}
}

func lowercaseKeys(headers map[string]string) map[string]string {
	if headers == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[strings.ToLower(k)] = v
	}
	return out
}
