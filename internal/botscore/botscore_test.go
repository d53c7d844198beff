package botscore_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/botscore"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/testsupport"
)

const chromeDesktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func browserHeaders() map[string]string {
	return map[string]string{
		"Accept":          "text/html,application/xhtml+xml",
		"Accept-Language": "en-US,en;q=0.9",
		"Accept-Encoding": "gzip, deflate, br",
	}
}

func newClassifier(t *testing.T) *botscore.Classifier {
	t.Helper()
	return botscore.New(testsupport.TestConfig(t), testsupport.Logger())
}

func TestScoreKnownBots(t *testing.T) {
	c := newClassifier(t)

	tests := []struct {
		name string
		ua   string
	}{
		{"googlebot", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"},
		{"curl", "curl/8.4.0 something"},
		{"python requests", "python-requests/2.31.0"},
		{"headless chrome", "Mozilla/5.0 (X11; Linux x86_64) HeadlessChrome/120.0.0.0 Safari/537.36"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, 100, c.Score(tt.ua, browserHeaders()))
			assert.True(t, c.IsBot(tt.ua, browserHeaders()))
		})
	}
}

func TestScoreMissingOrShortUA(t *testing.T) {
	c := newClassifier(t)

	assert.Equal(t, 80, c.Score("", browserHeaders()))
	assert.Equal(t, 80, c.Score("Mozilla", browserHeaders()))
	assert.True(t, c.IsBot("", browserHeaders()))
}

func TestScoreRealBrowser(t *testing.T) {
	c := newClassifier(t)

	score := c.Score(chromeDesktopUA, browserHeaders())
	assert.Equal(t, 0, score)
	assert.False(t, c.IsBot(chromeDesktopUA, browserHeaders()))
}

func TestScoreMissingHeadersAccumulate(t *testing.T) {
	c := newClassifier(t)

	// No accept, accept-language, or accept-encoding: 15 + 20 + 10.
	score := c.Score(chromeDesktopUA, nil)
	assert.Equal(t, 45, score)
	assert.False(t, c.IsBot(chromeDesktopUA, nil))
}

func TestScoreAutomationHeadersShortCircuit(t *testing.T) {
	c := newClassifier(t)

	headers := browserHeaders()
	headers["X-Playwright"] = "1"
	assert.Equal(t, 100, c.Score(chromeDesktopUA, headers))

	headers = browserHeaders()
	headers["Sec-CH-UA-Platform"] = `"HeadlessChrome"`
	assert.Equal(t, 100, c.Score(chromeDesktopUA, headers))
}

func TestScoreIsDeterministic(t *testing.T) {
	c := newClassifier(t)

	first := c.Score(chromeDesktopUA, browserHeaders())
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, c.Score(chromeDesktopUA, browserHeaders()))
	}
}

// The memoized per-UA score must not leak header signals between requests
// sharing a user-agent.
func TestMemoDoesNotLeakHeaderSignals(t *testing.T) {
	c := newClassifier(t)

	bare := c.Score(chromeDesktopUA, nil)
	require.Equal(t, 45, bare)

	// Same UA with real browser headers must drop back to the UA-only score.
	assert.Equal(t, 0, c.Score(chromeDesktopUA, browserHeaders()))

	// And automation headers must still short-circuit after the memo warmed.
	headers := browserHeaders()
	headers["X-Selenium"] = "1"
	assert.Equal(t, 100, c.Score(chromeDesktopUA, headers))
}

func TestScoreUnrecognizableLongUA(t *testing.T) {
	c := newClassifier(t)

	// Over 200 chars with no recognizable browser or OS adds 30.
	ua := strings.Repeat("definitely-not-a-user-", 10) + "string"
	assert.Equal(t, 30, c.Score(ua, browserHeaders()))
	assert.False(t, c.IsBot(ua, browserHeaders()))
}

func TestStaleBrowserVersionAddsWeight(t *testing.T) {
	c := newClassifier(t)

	staleChrome := "Mozilla/5.0 (Windows NT 6.1; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/49.0.2623.112 Safari/537.36"
	assert.Equal(t, 15, c.Score(staleChrome, browserHeaders()))
}

func TestSuspiciousReferrerAddsWeight(t *testing.T) {
	c := newClassifier(t)

	headers := browserHeaders()
	headers["Referer"] = "http://semalt.semalt.com/crawl"
	assert.Equal(t, 30, c.Score(chromeDesktopUA, headers))
}

func TestIsBotMatchesThreshold(t *testing.T) {
	c := newClassifier(t)

	// 45 from missing headers + 30 from a spam referrer crosses 70.
	headers := map[string]string{"Referer": "http://buttons-for-website.com"}
	score := c.Score(chromeDesktopUA, headers)
	assert.Equal(t, 75, score)
	assert.True(t, c.IsBot(chromeDesktopUA, headers))
}
