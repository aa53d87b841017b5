package fingerprint

import (
	"math"
)

// Cross-browser signal weights. Platform dominates: a MacIntel snapshot and
// a Win32 snapshot are never the same machine no matter how the rendering
// fingerprints land.
const (
	weightPlatform      = 60
	weightTimezone      = 20
	weightScreen        = 15
	weightPixelRatio    = 10
	weightCPUModel      = 15
	weightWebGLRenderer = 15
	weightCanvas        = 10
	weightWebGLFP       = 10
	weightMemory        = 5
)

const (
	// crossBrowserAcceptPercent is the weighted-score acceptance threshold
	crossBrowserAcceptPercent = 60

	// canvasBaseThreshold and webglBaseThreshold are the positional
	// similarity baselines before per-pair slack is applied
	canvasBaseThreshold = 85
	webglBaseThreshold  = 80

	// screenFullTolerancePx / screenPartialTolerancePx bound the per-axis
	// difference for full and half screen credit (browser chrome steals a
	// different number of pixels per engine)
	screenFullTolerancePx    = 100
	screenPartialTolerancePx = 300

	// sameFamilyMemoryToleranceMB is the 0.5 GB window for the legacy
	// memory identifier
	sameFamilyMemoryToleranceMB = 512
)

// Result is the outcome of comparing two snapshots
type Result struct {
	// SameDevice reports whether the snapshots plausibly describe the same
	// physical machine
	SameDevice bool
	// Score is the 0–100 similarity over the comparable signal pairs
	Score int
	// MatchedSignals names the signals that matched
	MatchedSignals []string
	// ComparablePairs counts the signals present in both snapshots; zero
	// means no evidence either way
	ComparablePairs int
}

// Compare normalizes and compares two snapshots. It never errors: absent
// signals are excluded from both sides of the score. With zero comparable
// pairs the result is no-match: identity is never assumed from absence of
// evidence.
func Compare(a, b Snapshot) Result {
	if NormalizeFamily(a.BrowserFamily) == NormalizeFamily(b.BrowserFamily) {
		return compareSameFamily(a, b)
	}
	return compareCrossBrowser(a, b)
}

// compareSameFamily applies the legacy identifier rule: within one browser
// family the hard identifiers are stable, so a single exact match is
// decisive.
func compareSameFamily(a, b Snapshot) Result {
	var matched []string
	pairs := 0

	if a.CPUModel != "" && b.CPUModel != "" {
		pairs++
		if a.CPUModel == b.CPUModel {
			matched = append(matched, "cpu_model")
		}
	}
	if a.HardwareFingerprint != "" && b.HardwareFingerprint != "" {
		pairs++
		if a.HardwareFingerprint == b.HardwareFingerprint {
			matched = append(matched, "hardware_fingerprint")
		}
	}
	if a.CanvasFingerprint != "" && b.CanvasFingerprint != "" {
		pairs++
		if a.CanvasFingerprint == b.CanvasFingerprint {
			matched = append(matched, "canvas_fingerprint")
		}
	}
	if a.WebGLFingerprint != "" && b.WebGLFingerprint != "" {
		pairs++
		if a.WebGLFingerprint == b.WebGLFingerprint {
			matched = append(matched, "webgl_fingerprint")
		}
	}
	if a.MemorySize > 0 && b.MemorySize > 0 {
		pairs++
		if math.Abs(memoryMB(a.MemorySize)-memoryMB(b.MemorySize)) <= sameFamilyMemoryToleranceMB {
			matched = append(matched, "memory_size")
		}
	}

	same := len(matched) > 0
	score := 0
	if same {
		score = 100
	}
	return Result{
		SameDevice:      same,
		Score:           score,
		MatchedSignals:  matched,
		ComparablePairs: pairs,
	}
}

// compareCrossBrowser applies the weighted model over signals present in
// both snapshots, with tolerances taken from the browser-pair profile.
func compareCrossBrowser(a, b Snapshot) Result {
	profile := ProfileFor(a.BrowserFamily, b.BrowserFamily)

	var (
		achieved, possible float64
		matched            []string
		pairs              int

		platformMatched bool
		cpuMatched      bool
		gpuMatched      bool
		screenMatched   bool
	)

	if a.Platform != "" && b.Platform != "" {
		pairs++
		possible += weightPlatform
		if a.Platform == b.Platform {
			achieved += weightPlatform
			matched = append(matched, "platform")
			platformMatched = true
		}
	}

	if a.Timezone != "" && b.Timezone != "" {
		pairs++
		possible += weightTimezone
		if a.Timezone == b.Timezone {
			achieved += weightTimezone
			matched = append(matched, "timezone")
		}
	}

	if a.ScreenWidth > 0 && a.ScreenHeight > 0 && b.ScreenWidth > 0 && b.ScreenHeight > 0 {
		pairs++
		possible += weightScreen
		dw := math.Abs(float64(a.ScreenWidth - b.ScreenWidth))
		dh := math.Abs(float64(a.ScreenHeight - b.ScreenHeight))
		switch {
		case dw <= screenFullTolerancePx && dh <= screenFullTolerancePx:
			achieved += weightScreen
			matched = append(matched, "screen")
			screenMatched = true
		case dw <= screenPartialTolerancePx && dh <= screenPartialTolerancePx:
			achieved += weightScreen / 2
		}
	}

	if a.DevicePixelRatio > 0 && b.DevicePixelRatio > 0 {
		pairs++
		possible += weightPixelRatio
		if math.Abs(a.DevicePixelRatio-b.DevicePixelRatio) <= profile.DPRTolerance {
			achieved += weightPixelRatio
			matched = append(matched, "device_pixel_ratio")
		}
	}

	if a.CPUModel != "" && b.CPUModel != "" {
		pairs++
		possible += weightCPUModel
		if NormalizeCPUModel(a.CPUModel) == NormalizeCPUModel(b.CPUModel) {
			achieved += weightCPUModel
			matched = append(matched, "cpu_model")
			cpuMatched = true
		}
	}

	if a.WebGLRenderer != "" && b.WebGLRenderer != "" {
		pairs++
		possible += weightWebGLRenderer
		if NormalizeWebGLRenderer(a.WebGLRenderer) == NormalizeWebGLRenderer(b.WebGLRenderer) {
			achieved += weightWebGLRenderer
			matched = append(matched, "webgl_renderer")
			gpuMatched = true
		}
	}

	if a.CanvasFingerprint != "" && b.CanvasFingerprint != "" {
		pairs++
		possible += weightCanvas
		threshold := canvasBaseThreshold - profile.CanvasSlack
		if PositionalSimilarity(a.CanvasFingerprint, b.CanvasFingerprint) >= threshold {
			achieved += weightCanvas
			matched = append(matched, "canvas_fingerprint")
		}
	}

	if a.WebGLFingerprint != "" && b.WebGLFingerprint != "" {
		pairs++
		possible += weightWebGLFP
		threshold := webglBaseThreshold - profile.WebGLSlack
		if PositionalSimilarity(a.WebGLFingerprint, b.WebGLFingerprint) >= threshold {
			achieved += weightWebGLFP
			matched = append(matched, "webgl_fingerprint")
		}
	}

	if a.MemorySize > 0 && b.MemorySize > 0 {
		pairs++
		possible += weightMemory
		if math.Abs(memoryMB(a.MemorySize)-memoryMB(b.MemorySize)) <= profile.MemToleranceMB {
			achieved += weightMemory
			matched = append(matched, "memory_size")
		}
	}

	if pairs == 0 || possible == 0 {
		return Result{SameDevice: false, Score: 0, ComparablePairs: 0}
	}

	score := int(math.Round(achieved / possible * 100))
	same := score >= crossBrowserAcceptPercent ||
		(platformMatched && (gpuMatched || cpuMatched || screenMatched))

	return Result{
		SameDevice:      same,
		Score:           score,
		MatchedSignals:  matched,
		ComparablePairs: pairs,
	}
}
