package confidence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/zoeemmanuel/superappauth-sub001/pkg/devicestore"
	"github.com/zoeemmanuel/superappauth-sub001/pkg/fingerprint"
)

func setupRecordSet(t *testing.T) *devicestore.RecordSet {
	t.Helper()
	return &devicestore.RecordSet{
		Record: devicestore.DeviceRecord{
			DeviceID:  "ab12",
			CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestScoreBasePerMatchType(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	sctx := Context{Now: now}
	set := setupRecordSet(t)

	assert.Equal(t, 90, Score(MatchExactToken, set, sctx).Score)
	assert.Equal(t, 70, Score(MatchCrossBrowserHeader, set, sctx).Score)
	assert.Equal(t, 50, Score(MatchOwnerFallback, set, sctx).Score)
	assert.Equal(t, 30, Score(MatchOther, set, sctx).Score)
}

func TestScoreRecentVerificationBonus(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	set := setupRecordSet(t)
	set.Record.LastVerifiedAt = now.Add(-3 * 24 * time.Hour)
	eval := Score(MatchCrossBrowserHeader, set, Context{Now: now})
	assert.Equal(t, 85, eval.Score)
	assert.Equal(t, LevelHigh, eval.Level)

	// stale verification earns nothing
	set.Record.LastVerifiedAt = now.Add(-8 * 24 * time.Hour)
	eval = Score(MatchCrossBrowserHeader, set, Context{Now: now})
	assert.Equal(t, 70, eval.Score)
}

func TestScoreConfirmedBrowserBonus(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	sctx := Context{Now: now}

	set := setupRecordSet(t)
	set.Browsers = []devicestore.BrowserAssociation{
		{BrowserID: "b1"},
	}
	// a single confirmed browser is the baseline, not a signal
	assert.Equal(t, 70, Score(MatchCrossBrowserHeader, set, sctx).Score)

	set.Browsers = append(set.Browsers, devicestore.BrowserAssociation{BrowserID: "b2"})
	assert.Equal(t, 80, Score(MatchCrossBrowserHeader, set, sctx).Score)

	// pending associations do not count
	set.Browsers = append(set.Browsers, devicestore.BrowserAssociation{BrowserID: "b3", Pending: true})
	assert.Equal(t, 80, Score(MatchCrossBrowserHeader, set, sctx).Score)

	// bonus is capped at 15 however many browsers are confirmed
	for _, id := range []string{"b4", "b5", "b6", "b7"} {
		set.Browsers = append(set.Browsers, devicestore.BrowserAssociation{BrowserID: id})
	}
	assert.Equal(t, 85, Score(MatchCrossBrowserHeader, set, sctx).Score)
}

func TestScoreCoarseCharacteristicBonus(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	stored := &fingerprint.Snapshot{
		Platform:         "MacIntel",
		Timezone:         "Europe/Berlin",
		ScreenWidth:      2560,
		ScreenHeight:     1440,
		Language:         "de-DE",
		DevicePixelRatio: 2.0,
		BrowserFamily:    "chrome",
	}
	inbound := &fingerprint.Snapshot{
		Platform:         "MacIntel",
		Timezone:         "Europe/Berlin",
		ScreenWidth:      2560,
		ScreenHeight:     1440,
		Language:         "de-DE",
		DevicePixelRatio: 2.0,
		BrowserFamily:    "firefox",
	}

	set := setupRecordSet(t)
	set.Snapshot = stored

	// five of six coarse signals agree, family differs
	eval := Score(MatchCrossBrowserHeader, set, Context{Now: now, InboundSnapshot: inbound})
	assert.Equal(t, 80, eval.Score)

	// no inbound snapshot, no bonus
	eval = Score(MatchCrossBrowserHeader, set, Context{Now: now})
	assert.Equal(t, 70, eval.Score)
}

func TestScoreKnownIPBonus(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	set := setupRecordSet(t)
	set.AccessLog = []devicestore.AccessLogEntry{
		{IP: "203.0.113.7", AccessTime: now.Add(-time.Hour)},
	}

	assert.Equal(t, 80, Score(MatchCrossBrowserHeader, set, Context{Now: now, RequestIP: "203.0.113.7"}).Score)
	assert.Equal(t, 70, Score(MatchCrossBrowserHeader, set, Context{Now: now, RequestIP: "198.51.100.1"}).Score)
	assert.Equal(t, 70, Score(MatchCrossBrowserHeader, set, Context{Now: now}).Score)
}

func TestScoreFingerprintVeto(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	set := setupRecordSet(t)
	eval := Score(MatchCrossBrowserHeader, set, Context{Now: now, FingerprintVeto: true})
	assert.Equal(t, 30, eval.Score)
	assert.Equal(t, LevelLow, eval.Level)
}

func TestScoreClamped(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	snap := &fingerprint.Snapshot{
		Platform:         "Win32",
		Timezone:         "America/New_York",
		ScreenWidth:      1920,
		ScreenHeight:     1080,
		Language:         "en-US",
		DevicePixelRatio: 1.0,
		BrowserFamily:    "chrome",
	}

	set := setupRecordSet(t)
	set.Record.LastVerifiedAt = now.Add(-time.Hour)
	set.Snapshot = snap
	set.Browsers = []devicestore.BrowserAssociation{
		{BrowserID: "b1"}, {BrowserID: "b2"}, {BrowserID: "b3"}, {BrowserID: "b4"},
	}
	set.AccessLog = []devicestore.AccessLogEntry{{IP: "203.0.113.7"}}

	sctx := Context{Now: now, RequestIP: "203.0.113.7", InboundSnapshot: snap}

	// 90 + 15 + 15 + 12 + 10 = 142, clamped to 100
	eval := Score(MatchExactToken, set, sctx)
	assert.Equal(t, 100, eval.Score)
	assert.Equal(t, LevelHigh, eval.Level)

	// raw total is 142; the veto brings it to 102, still clamped
	sctx.FingerprintVeto = true
	eval = Score(MatchExactToken, set, sctx)
	assert.Equal(t, 100, eval.Score)

	// veto alone against the weakest base floors at zero
	eval = Score(MatchOther, nil, Context{Now: now, FingerprintVeto: true})
	assert.Equal(t, 0, eval.Score)
	assert.Equal(t, LevelVeryLow, eval.Level)
}

func TestScoreNilRecordSet(t *testing.T) {
	eval := Score(MatchExactToken, nil, Context{Now: time.Now()})
	assert.Equal(t, 90, eval.Score)
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, LevelHigh, LevelFor(100))
	assert.Equal(t, LevelHigh, LevelFor(85))
	assert.Equal(t, LevelMedium, LevelFor(84))
	assert.Equal(t, LevelMedium, LevelFor(60))
	assert.Equal(t, LevelLow, LevelFor(59))
	assert.Equal(t, LevelLow, LevelFor(30))
	assert.Equal(t, LevelVeryLow, LevelFor(29))
	assert.Equal(t, LevelVeryLow, LevelFor(0))
}

func TestDecide(t *testing.T) {
	high := Evaluation{Score: 90, Level: LevelHigh}
	medium := Evaluation{Score: 70, Level: LevelMedium}
	low := Evaluation{Score: 40, Level: LevelLow}

	assert.Equal(t, OutcomeAuthenticated, Decide(high, MatchExactToken, false))
	assert.Equal(t, OutcomeAuthenticated, Decide(high, MatchCrossBrowserHeader, false))

	assert.Equal(t, OutcomePinOffered, Decide(medium, MatchCrossBrowserHeader, true))
	assert.Equal(t, OutcomeVerificationRequired, Decide(medium, MatchCrossBrowserHeader, false))

	assert.Equal(t, OutcomeVerificationRequired, Decide(low, MatchExactToken, true))
}

func TestDecideFallbackMatchesNeverAuthenticate(t *testing.T) {
	high := Evaluation{Score: 95, Level: LevelHigh}

	assert.Equal(t, OutcomeVerificationRequired, Decide(high, MatchOwnerFallback, true))
	assert.Equal(t, OutcomeVerificationRequired, Decide(high, MatchOther, true))
}
