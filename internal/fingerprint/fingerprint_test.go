package fingerprint

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func desktopClient() ClientInfo {
	return ClientInfo{
		UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		ScreenWidth:   1920,
		ScreenHeight:  1080,
		Timezone:      "Europe/Berlin",
		Language:      "de-DE",
		Platform:      "Windows",
		CookieEnabled: true,
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	first := Generate(desktopClient())
	second := Generate(desktopClient())

	require.Len(t, first.Hash, 64)
	require.Equal(t, first.Hash, second.Hash)
	require.Equal(t, "de-DE", first.Language, "client-reported language is kept verbatim")
}

func TestGenerateKeepsLanguageRegionDistinct(t *testing.T) {
	us := desktopClient()
	us.Language = "en-US"

	gb := desktopClient()
	gb.Language = "en-GB"

	require.NotEqual(t, Generate(us).Hash, Generate(gb).Hash)
}

func TestGenerateToleratesMissingFields(t *testing.T) {
	fp := Generate(ClientInfo{})

	require.Len(t, fp.Hash, 64)
	require.True(t, fp.Valid())
}

func TestValidDetectsTampering(t *testing.T) {
	fp := Generate(desktopClient())
	require.True(t, fp.Valid())

	fp.UserAgent = "Mozilla/5.0 (X11; Linux x86_64)"
	require.False(t, fp.Valid())

	fp = Generate(desktopClient())
	fp.Hash = ""
	require.False(t, fp.Valid())
}

func TestFromHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Safari/605.1.15")
	headers.Add("Accept-Language", "en-US,en;q=0.9")
	headers.Add("Accept-Language", "fr-FR")
	headers.Set("X-Screen-Resolution", "2560x1440")
	headers.Set("X-Timezone", "America/New_York")
	headers.Set("Cookie", "session=abc")

	fp := FromHeaders(headers)

	require.Equal(t, "macOS", fp.Platform)
	require.Equal(t, "en", fp.Language, "first header value wins")
	require.Equal(t, 2560, fp.ScreenWidth)
	require.Equal(t, 1440, fp.ScreenHeight)
	require.Equal(t, "America/New_York", fp.Timezone)
	require.True(t, fp.CookieEnabled)
	require.True(t, fp.Valid())
}

func TestPlatformInference(t *testing.T) {
	cases := map[string]string{
		"Mozilla/5.0 (Windows NT 10.0)":               "Windows",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X)":     "macOS",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0)":    "iOS",
		"Mozilla/5.0 (iPad; CPU OS 17_0)":             "iOS",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8)":    "Android",
		"Mozilla/5.0 (X11; Linux x86_64)":             "Linux",
		"curl/8.0.1":                                  "Unknown",
		"":                                            "Unknown",
	}

	for ua, want := range cases {
		require.Equal(t, want, platformFromUserAgent(ua), "user agent %q", ua)
	}
}

func TestSimilarityBounds(t *testing.T) {
	a := Generate(desktopClient())
	b := Generate(desktopClient())
	require.InDelta(t, 1.0, Similarity(a, b), 1e-9)

	disjoint := Generate(ClientInfo{
		UserAgent:    "Mozilla/5.0 (X11; Linux x86_64)",
		ScreenWidth:  1366,
		ScreenHeight: 768,
		Timezone:     "Asia/Tokyo",
		Language:     "ja",
		Platform:     "Linux",
	})
	require.Less(t, Similarity(a, disjoint), 0.5)
}

func TestSimilarityRequiresTwoFieldsForMajority(t *testing.T) {
	a := Generate(desktopClient())

	// Only the user agent matches: the strongest single field still scores
	// below 0.5.
	uaOnly := desktopClient()
	uaOnly.ScreenWidth = 800
	uaOnly.ScreenHeight = 600
	uaOnly.Timezone = "Asia/Tokyo"
	uaOnly.Language = "ja"
	uaOnly.Platform = "Linux"
	require.Less(t, Similarity(a, Generate(uaOnly)), 0.5)

	// User agent plus timezone crosses the threshold.
	uaAndTz := uaOnly
	uaAndTz.Timezone = "Europe/Berlin"
	require.GreaterOrEqual(t, Similarity(a, Generate(uaAndTz)), 0.5)
}

func TestInspectFlagsAutomation(t *testing.T) {
	info := desktopClient()
	info.UserAgent = "Mozilla/5.0 HeadlessChrome/120.0"

	report := Inspect(Generate(info))
	require.True(t, report.Suspicious)
	require.Len(t, report.Reasons, 1)
}

func TestInspectReasonsAreAdditive(t *testing.T) {
	report := Inspect(Generate(ClientInfo{
		UserAgent:    "selenium-runner",
		ScreenWidth:  0,
		ScreenHeight: 0,
	}))

	require.True(t, report.Suspicious)
	require.Len(t, report.Reasons, 2)
}

func TestInspectScreenBounds(t *testing.T) {
	tiny := desktopClient()
	tiny.ScreenWidth = 50
	require.True(t, Inspect(Generate(tiny)).Suspicious)

	huge := desktopClient()
	huge.ScreenHeight = 9000
	require.True(t, Inspect(Generate(huge)).Suspicious)

	require.False(t, Inspect(Generate(desktopClient())).Suspicious)
}
