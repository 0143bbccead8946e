// Package device derives a device-trust signal from the client User-Agent.
package device

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/mssola/useragent"

	"aegis/internal/risk"
	"aegis/internal/signals"
)

var headlessMarkers = []string{"headless", "phantomjs", "puppeteer", "playwright", "selenium", "webdriver"}

// Producer scores the requesting device. Bots and automation score high;
// a fingerprint that drifted since initiation adds risk.
type Producer struct{}

func NewProducer() *Producer { return &Producer{} }

func (*Producer) Source() risk.Source { return risk.SourceDevice }

func (*Producer) Produce(_ context.Context, sc signals.SubjectContext) (risk.Signal, error) {
	sig := risk.Signal{Source: risk.SourceDevice, Evidence: map[string]string{}}
	uaString := strings.TrimSpace(sc.UserAgent)
	if uaString == "" {
		sig.Score, sig.Confidence = 80, 0.6
		sig.Evidence["reason"] = "missing_user_agent"
		return sig, nil
	}

	ua := useragent.New(uaString)
	browser, version := ua.Browser()
	sig.Evidence["browser"] = browser
	sig.Evidence["os"] = ua.OS()
	sig.Evidence["mobile"] = strconv.FormatBool(ua.Mobile())

	lower := strings.ToLower(uaString)
	switch {
	case ua.Bot():
		sig.Score, sig.Confidence = 95, 0.9
		sig.Evidence["reason"] = "bot"
	case containsAny(lower, headlessMarkers):
		sig.Score, sig.Confidence = 90, 0.8
		sig.Evidence["reason"] = "automation"
	case browser == "" || version == "" || ua.OS() == "":
		sig.Score, sig.Confidence = 60, 0.5
		sig.Evidence["reason"] = "unrecognized_client"
	default:
		sig.Score, sig.Confidence = 10, 0.8
		sig.Evidence["reason"] = "recognized_client"
	}

	fp := ComputeFingerprint(uaString)
	sig.Evidence["fingerprint"] = fp[:16]
	if matched, drift := CompareFingerprints(sc.KnownFingerprint, fp); !matched && drift {
		sig.Score = min(100, sig.Score+30)
		sig.Evidence["fingerprint_drift"] = "true"
	}
	return sig, nil
}

// ParseUserAgent returns a display name such as "Chrome on macOS".
func ParseUserAgent(uaString string) string {
	if strings.TrimSpace(uaString) == "" {
		return "Unknown Device"
	}
	ua := useragent.New(uaString)
	browser, _ := ua.Browser()
	if browser == "" {
		browser = "Unknown Browser"
	}
	platform := ua.OS()
	if ua.Mobile() && ua.Platform() != "" {
		platform = ua.Platform()
	}
	if platform == "" {
		platform = "Unknown OS"
	}
	return strings.TrimSpace(browser + " on " + platform)
}

// ComputeFingerprint hashes the stable parts of a User-Agent: browser name
// and major version, OS and platform. Minor browser updates keep it stable.
func ComputeFingerprint(uaString string) string {
	ua := useragent.New(uaString)
	browser, version := ua.Browser()
	major, _, _ := strings.Cut(version, ".")
	sum := sha256.Sum256([]byte(strings.Join([]string{browser, major, ua.OS(), ua.Platform()}, "|")))
	return hex.EncodeToString(sum[:])
}

// CompareFingerprints reports whether two fingerprints match and whether a
// known fingerprint drifted. An unknown fingerprint is never drift.
func CompareFingerprints(known, current string) (matched, drift bool) {
	if known == "" {
		return false, false
	}
	matched = known == current
	return matched, !matched
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
