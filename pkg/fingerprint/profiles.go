package fingerprint

import (
	"sort"
	"strings"
)

// PairProfile holds the comparison tolerances for one unordered pair of
// browser families. Engines diverge by different amounts: two Chromium
// browsers render nearly identically, Chrome and Safari disagree the most.
type PairProfile struct {
	// DPRTolerance is the allowed devicePixelRatio difference (0.2–0.5)
	DPRTolerance float64
	// CanvasSlack lowers the canvas similarity threshold from its base of
	// 85% (3–10)
	CanvasSlack float64
	// WebGLSlack lowers the WebGL fingerprint similarity threshold from its
	// base of 80% (3–15)
	WebGLSlack float64
	// MemToleranceMB is the allowed memory size difference after unit
	// normalization (512–1024)
	MemToleranceMB float64
}

// defaultProfile covers browser pairs with no measured divergence data
var defaultProfile = PairProfile{
	DPRTolerance:   0.3,
	CanvasSlack:    5,
	WebGLSlack:     8,
	MemToleranceMB: 768,
}

// chromiumSiblings render through the same engine; tight tolerances
var chromiumSiblings = PairProfile{
	DPRTolerance:   0.2,
	CanvasSlack:    3,
	WebGLSlack:     3,
	MemToleranceMB: 512,
}

var pairProfiles = map[string]PairProfile{
	"chrome|edge":    chromiumSiblings,
	"chrome|opera":   chromiumSiblings,
	"edge|opera":     chromiumSiblings,
	"chrome|firefox": {DPRTolerance: 0.3, CanvasSlack: 8, WebGLSlack: 10, MemToleranceMB: 768},
	"edge|firefox":   {DPRTolerance: 0.3, CanvasSlack: 8, WebGLSlack: 10, MemToleranceMB: 768},
	"chrome|safari":  {DPRTolerance: 0.5, CanvasSlack: 10, WebGLSlack: 15, MemToleranceMB: 1024},
	"edge|safari":    {DPRTolerance: 0.5, CanvasSlack: 10, WebGLSlack: 15, MemToleranceMB: 1024},
	"firefox|safari": {DPRTolerance: 0.4, CanvasSlack: 10, WebGLSlack: 12, MemToleranceMB: 1024},
}

// ProfileFor returns the comparison profile for a pair of browser families.
// The pair is unordered; unknown pairs get middle-of-the-road defaults.
func ProfileFor(familyA, familyB string) PairProfile {
	families := []string{NormalizeFamily(familyA), NormalizeFamily(familyB)}
	sort.Strings(families)
	key := strings.Join(families, "|")
	if profile, ok := pairProfiles[key]; ok {
		return profile
	}
	return defaultProfile
}
