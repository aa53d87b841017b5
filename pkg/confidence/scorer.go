package confidence

import (
	"time"

	"github.com/zoeemmanuel/superappauth-sub001/pkg/devicestore"
	"github.com/zoeemmanuel/superappauth-sub001/pkg/fingerprint"
)

// MatchType classifies how a candidate device was located
type MatchType string

const (
	// MatchExactToken is a direct hit on an opaque browser token
	MatchExactToken MatchType = "exact_token"
	// MatchCrossBrowserHeader is an identity-header hit from a different
	// browser on the same machine
	MatchCrossBrowserHeader MatchType = "cross_browser_header"
	// MatchOwnerFallback is a pick by owner context without any device
	// identifier
	MatchOwnerFallback MatchType = "owner_fallback"
	// MatchOther covers everything weaker
	MatchOther MatchType = "other"
)

// Level is the discrete trust level derived from a score
type Level string

const (
	LevelHigh    Level = "high"
	LevelMedium  Level = "medium"
	LevelLow     Level = "low"
	LevelVeryLow Level = "very_low"
)

// Level thresholds
const (
	thresholdHigh   = 85
	thresholdMedium = 60
	thresholdLow    = 30
)

// Base scores per match type
const (
	baseExactToken         = 90
	baseCrossBrowserHeader = 70
	baseOwnerFallback      = 50
	baseOther              = 30
)

// Adjustment weights
const (
	recentVerificationBonus = 15
	knownBrowserBonusPer    = 5
	knownBrowserBonusCap    = 15
	coarseSignalBonusPer    = 2
	knownIPBonus            = 10
	fingerprintVetoPenalty  = 40
)

// DefaultRecentVerificationWindow is how long a verification keeps
// boosting confidence unless the caller overrides it
const DefaultRecentVerificationWindow = 7 * 24 * time.Hour

// Context carries the request-side signals the scorer weighs alongside the
// stored record set
type Context struct {
	// RequestIP is the caller's address, checked against the access log
	RequestIP string
	// InboundSnapshot is the fingerprint captured for this request, if any
	InboundSnapshot *fingerprint.Snapshot
	// FingerprintVeto is set when the comparator explicitly reported
	// not-same-physical-device despite a header match; the strongest
	// negative signal
	FingerprintVeto bool
	// RecentWindow overrides how far back a verification still counts;
	// zero means DefaultRecentVerificationWindow
	RecentWindow time.Duration
	// Now anchors time comparisons; zero means time.Now
	Now time.Time
}

// Evaluation is the scorer's output
type Evaluation struct {
	Score int
	Level Level
}

// Score combines the match type, the stored record set and the request
// context into a clamped 0–100 confidence. Pure: missing inputs contribute
// nothing.
func Score(matchType MatchType, set *devicestore.RecordSet, sctx Context) Evaluation {
	score := baseFor(matchType)

	now := sctx.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	window := sctx.RecentWindow
	if window <= 0 {
		window = DefaultRecentVerificationWindow
	}

	if set != nil {
		if !set.Record.LastVerifiedAt.IsZero() &&
			now.Sub(set.Record.LastVerifiedAt) <= window {
			score += recentVerificationBonus
		}

		if n := set.ConfirmedBrowserCount(); n > 1 {
			bonus := knownBrowserBonusPer * n
			if bonus > knownBrowserBonusCap {
				bonus = knownBrowserBonusCap
			}
			score += bonus
		}

		score += coarseSignalBonusPer * coarseMatches(set.Snapshot, sctx.InboundSnapshot)

		if set.HasAccessFromIP(sctx.RequestIP) {
			score += knownIPBonus
		}
	}

	if sctx.FingerprintVeto {
		score -= fingerprintVetoPenalty
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return Evaluation{Score: score, Level: LevelFor(score)}
}

func baseFor(matchType MatchType) int {
	switch matchType {
	case MatchExactToken:
		return baseExactToken
	case MatchCrossBrowserHeader:
		return baseCrossBrowserHeader
	case MatchOwnerFallback:
		return baseOwnerFallback
	default:
		return baseOther
	}
}

// LevelFor maps a numeric score to its trust level
func LevelFor(score int) Level {
	switch {
	case score >= thresholdHigh:
		return LevelHigh
	case score >= thresholdMedium:
		return LevelMedium
	case score >= thresholdLow:
		return LevelLow
	default:
		return LevelVeryLow
	}
}

// coarseMatches counts the coarse characteristics agreeing between the
// stored and inbound snapshots: platform, screen, timezone, language,
// approximate pixel ratio, browser family.
func coarseMatches(stored, inbound *fingerprint.Snapshot) int {
	if stored == nil || inbound == nil {
		return 0
	}

	n := 0
	if stored.Platform != "" && stored.Platform == inbound.Platform {
		n++
	}
	if stored.ScreenWidth > 0 && inbound.ScreenWidth > 0 &&
		stored.ScreenWidth == inbound.ScreenWidth &&
		stored.ScreenHeight == inbound.ScreenHeight {
		n++
	}
	if stored.Timezone != "" && stored.Timezone == inbound.Timezone {
		n++
	}
	if stored.Language != "" && stored.Language == inbound.Language {
		n++
	}
	if stored.DevicePixelRatio > 0 && inbound.DevicePixelRatio > 0 {
		diff := stored.DevicePixelRatio - inbound.DevicePixelRatio
		if diff < 0 {
			diff = -diff
		}
		if diff <= 0.25 {
			n++
		}
	}
	if stored.BrowserFamily != "" &&
		fingerprint.NormalizeFamily(stored.BrowserFamily) == fingerprint.NormalizeFamily(inbound.BrowserFamily) {
		n++
	}
	return n
}
