// Package challenge detects anti-bot interstitials and waits for them to clear.
package challenge

import (
	"net/http"
	"strings"

	"github.com/jmylchreest/techdex/internal/browser"
)

// Status classifies a page with respect to an anti-bot challenge.
type Status int

const (
	// Clear means normal content is being served.
	Clear Status = iota
	// Pending means a challenge is interposed and may still resolve.
	Pending
	// Failed means the challenge did not resolve or the client was blocked outright.
	Failed
)

func (s Status) String() string {
	switch s {
	case Clear:
		return "CLEAR"
	case Pending:
		return "CHALLENGE_PENDING"
	case Failed:
		return "CHALLENGE_FAILED"
	default:
		return "UNKNOWN"
	}
}

type marker struct {
	kind   string
	titles []string
	html   []string
}

// Title and markup signatures of interstitial pages, matched case-insensitively.
// "/cdn-cgi/challenge-platform/" is absent: Cloudflare injects its JS detection
// script from that path into ordinary pages too.
var pendingMarkers = []marker{
	{
		kind:   "cloudflare",
		titles: []string{"just a moment", "attention required", "checking your browser"},
		html:   []string{"checking your browser", "cf-browser-verification", "cf-challenge", "cf_chl_opt"},
	},
	{
		kind: "cloudflare-turnstile",
		html: []string{"challenges.cloudflare.com/turnstile", "cf-turnstile"},
	},
	{
		kind: "hcaptcha",
		html: []string{"hcaptcha.com", "h-captcha"},
	},
	{
		kind: "recaptcha",
		html: []string{"google.com/recaptcha", "g-recaptcha"},
	},
}

// Hard blocks never clear by waiting.
var blockedMarkers = marker{
	kind:   "blocked",
	titles: []string{"access denied", "you have been blocked", "bot detection"},
	html:   []string{"sorry, you have been blocked", "cf-error-details", "error code: 1020"},
}

func (m marker) match(title, html string) bool {
	for _, t := range m.titles {
		if strings.Contains(title, t) {
			return true
		}
	}
	for _, h := range m.html {
		if strings.Contains(html, h) {
			return true
		}
	}
	return false
}

// Classify inspects a snapshot for challenge signatures.
func Classify(snap browser.Snapshot) Status {
	status, _ := classify(snap)
	return status
}

// Kind names the challenge vendor in snap, or "" when the page is clear.
func Kind(snap browser.Snapshot) string {
	_, kind := classify(snap)
	return kind
}

func classify(snap browser.Snapshot) (Status, string) {
	title := strings.ToLower(snap.Title)
	html := strings.ToLower(snap.HTML)

	if blockedMarkers.match(title, html) {
		return Failed, blockedMarkers.kind
	}
	for _, m := range pendingMarkers {
		if m.match(title, html) {
			return Pending, m.kind
		}
	}

	// Challenge responses are served with these codes even when the markup
	// has not been recognised yet.
	switch snap.Status {
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return Pending, "status"
	}
	return Clear, ""
}
