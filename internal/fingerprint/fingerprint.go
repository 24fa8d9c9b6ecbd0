// Package fingerprint derives a stable device hash and suspicion signal from
// client metadata. It is pure computation: nothing here touches storage and
// the hash is a deduplication aid, never an identity proof.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ClientInfo carries the raw attributes reported by a client.
type ClientInfo struct {
	UserAgent     string `json:"user_agent"`
	ScreenWidth   int    `json:"screen_width"`
	ScreenHeight  int    `json:"screen_height"`
	Timezone      string `json:"timezone"`
	Language      string `json:"language"`
	Platform      string `json:"platform"`
	CookieEnabled bool   `json:"cookie_enabled"`
}

// Fingerprint is the normalized form of ClientInfo plus its content hash.
type Fingerprint struct {
	UserAgent     string `json:"user_agent"`
	ScreenWidth   int    `json:"screen_width"`
	ScreenHeight  int    `json:"screen_height"`
	Timezone      string `json:"timezone"`
	Language      string `json:"language"`
	Platform      string `json:"platform"`
	CookieEnabled bool   `json:"cookie_enabled"`
	Hash          string `json:"hash"`
}

// Report is the outcome of a suspicion inspection.
type Report struct {
	Suspicious bool     `json:"suspicious"`
	Reasons    []string `json:"reasons,omitempty"`
}

var automationSignatures = []string{
	"headlesschrome",
	"phantomjs",
	"selenium",
	"webdriver",
	"bot",
	"crawler",
	"spider",
}

const (
	minScreenAxis = 100
	maxScreenAxis = 8000
)

// Generate builds a fingerprint from client-reported attributes. Missing
// fields default to empty/zero; it never fails.
func Generate(info ClientInfo) Fingerprint {
	fp := Fingerprint{
		UserAgent:     strings.TrimSpace(info.UserAgent),
		ScreenWidth:   info.ScreenWidth,
		ScreenHeight:  info.ScreenHeight,
		Timezone:      strings.TrimSpace(info.Timezone),
		Language:      strings.TrimSpace(info.Language),
		Platform:      strings.TrimSpace(info.Platform),
		CookieEnabled: info.CookieEnabled,
	}
	fp.Hash = hash(fp)
	return fp
}

// FromHeaders derives a fingerprint from request headers. The platform is
// inferred from the user agent and the language is reduced to its primary
// subtag. Multi-value headers contribute their first value only.
func FromHeaders(headers http.Header) Fingerprint {
	ua := firstHeader(headers, "User-Agent")

	width, height := parseResolution(firstHeader(headers, "X-Screen-Resolution"))

	return Generate(ClientInfo{
		UserAgent:     ua,
		ScreenWidth:   width,
		ScreenHeight:  height,
		Timezone:      firstHeader(headers, "X-Timezone"),
		Language:      primaryLanguage(firstHeader(headers, "Accept-Language")),
		Platform:      platformFromUserAgent(ua),
		CookieEnabled: firstHeader(headers, "Cookie") != "",
	})
}

// Valid recomputes the hash and compares it against the stored one. An empty
// hash is never valid.
func (f Fingerprint) Valid() bool {
	if f.Hash == "" {
		return false
	}
	return hash(f) == f.Hash
}

// Field weights used by Similarity. They sum to 1.0 and no single field, nor
// any single pair, can push two otherwise-disjoint fingerprints past 0.5.
var similarityWeights = []struct {
	weight float64
	match  func(a, b Fingerprint) bool
}{
	{0.30, func(a, b Fingerprint) bool { return a.UserAgent == b.UserAgent }},
	{0.20, func(a, b Fingerprint) bool { return a.ScreenWidth == b.ScreenWidth && a.ScreenHeight == b.ScreenHeight }},
	{0.20, func(a, b Fingerprint) bool { return a.Timezone == b.Timezone }},
	{0.15, func(a, b Fingerprint) bool { return a.Language == b.Language }},
	{0.15, func(a, b Fingerprint) bool { return a.Platform == b.Platform }},
}

// Similarity scores field agreement between two fingerprints in [0, 1].
func Similarity(a, b Fingerprint) float64 {
	score := 0.0
	for _, field := range similarityWeights {
		if field.match(a, b) {
			score += field.weight
		}
	}
	return score
}

// Inspect flags fingerprints that look automated or implausible. Reasons are
// additive: a headless agent with a zero resolution reports both.
func Inspect(f Fingerprint) Report {
	var reasons []string

	ua := strings.ToLower(f.UserAgent)
	switch {
	case ua == "":
		reasons = append(reasons, "empty user agent")
	default:
		for _, sig := range automationSignatures {
			if strings.Contains(ua, sig) {
				reasons = append(reasons, fmt.Sprintf("automation signature %q in user agent", sig))
				break
			}
		}
	}

	switch {
	case f.ScreenWidth == 0 || f.ScreenHeight == 0:
		reasons = append(reasons, "zero screen resolution")
	case f.ScreenWidth < minScreenAxis || f.ScreenHeight < minScreenAxis:
		reasons = append(reasons, "implausibly small screen resolution")
	case f.ScreenWidth > maxScreenAxis || f.ScreenHeight > maxScreenAxis:
		reasons = append(reasons, "implausibly large screen resolution")
	}

	return Report{
		Suspicious: len(reasons) > 0,
		Reasons:    reasons,
	}
}

func hash(f Fingerprint) string {
	canonical := strings.Join([]string{
		f.UserAgent,
		fmt.Sprintf("%dx%d", f.ScreenWidth, f.ScreenHeight),
		f.Timezone,
		f.Language,
		f.Platform,
		strconv.FormatBool(f.CookieEnabled),
	}, "|")

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

func firstHeader(headers http.Header, key string) string {
	values := headers.Values(key)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func parseResolution(value string) (int, int) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(value)), "x", 2)
	if len(parts) != 2 {
		return 0, 0
	}

	width, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0
	}
	height, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0
	}
	return width, height
}

// primaryLanguage reduces an Accept-Language style value to its primary
// subtag: "en-US,en;q=0.9" becomes "en".
func primaryLanguage(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	if comma := strings.IndexByte(value, ','); comma != -1 {
		value = value[:comma]
	}
	if semi := strings.IndexByte(value, ';'); semi != -1 {
		value = value[:semi]
	}
	if dash := strings.IndexByte(value, '-'); dash != -1 {
		value = value[:dash]
	}
	return strings.TrimSpace(value)
}

func platformFromUserAgent(ua string) string {
	switch {
	case ua == "":
		return "Unknown"
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case strings.Contains(ua, "Macintosh"):
		return "macOS"
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"):
		return "iOS"
	case strings.Contains(ua, "Android"):
		return "Android"
	case strings.Contains(ua, "Linux"):
		return "Linux"
	default:
		return "Unknown"
	}
}
