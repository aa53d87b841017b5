package fingerprint

import (
	"regexp"
	"strings"
)

var (
	appleSiliconRe = regexp.MustCompile(`apple m(\d+)`)
	intelFamilyRe  = regexp.MustCompile(`\bi([3579])\b`)
	amdRyzenRe     = regexp.MustCompile(`ryzen (\d)`)
	spacesRe       = regexp.MustCompile(`\s+`)
	angleRe        = regexp.MustCompile(`^angle \((.+)\)$`)
)

// cpuDecorations are vendor noise stripped before comparing CPU models
var cpuDecorations = []string{"(r)", "(tm)", "(c)", " cpu", " processor"}

// NormalizeCPUModel reduces a reported CPU model string to a comparable
// form: vendor decorations and clock suffixes are stripped, Apple silicon
// collapses to its generation (an "Apple M1 Pro" and an "Apple M1 Max" are
// the same machine family as far as cross-browser reporting goes), Intel
// collapses to its Core-iN family.
func NormalizeCPUModel(model string) string {
	s := strings.ToLower(strings.TrimSpace(model))
	if s == "" {
		return ""
	}

	// Clock speed suffix: "... @ 2.60GHz"
	if at := strings.Index(s, "@"); at >= 0 {
		s = s[:at]
	}

	for _, dec := range cpuDecorations {
		s = strings.ReplaceAll(s, dec, "")
	}

	if m := appleSiliconRe.FindStringSubmatch(s); m != nil {
		return "apple m" + m[1]
	}
	if strings.Contains(s, "intel") || strings.Contains(s, "core") {
		if m := intelFamilyRe.FindStringSubmatch(s); m != nil {
			return "intel core i" + m[1]
		}
	}
	if strings.Contains(s, "amd") || strings.Contains(s, "ryzen") {
		if m := amdRyzenRe.FindStringSubmatch(s); m != nil {
			return "amd ryzen " + m[1]
		}
	}

	return strings.TrimSpace(spacesRe.ReplaceAllString(s, " "))
}

// rendererSuffixes are API/driver decorations appended by specific browsers
// or platforms; everything from the first occurrence on is dropped
var rendererSuffixes = []string{
	" direct3d",
	" opengl engine",
	" vs_5_0",
	"/pcie",
	"/sse2",
}

// rendererNoise are vendor words that one browser reports and another omits
var rendererNoise = []string{"(r)", "(tm)", "corporation", "incorporated", "inc.", "co., ltd."}

// NormalizeWebGLRenderer reduces a reported WebGL renderer to a comparable
// form. Chromium browsers wrap the real GPU in an ANGLE translation layer
// ("ANGLE (NVIDIA, NVIDIA GeForce GTX 1080 Direct3D11 vs_5_0 ps_5_0, D3D11)")
// while Firefox and Safari report it bare; the wrapper and the API suffixes
// are stripped so the GPU model itself can be compared.
func NormalizeWebGLRenderer(renderer string) string {
	s := strings.ToLower(strings.TrimSpace(renderer))
	if s == "" {
		return ""
	}

	if m := angleRe.FindStringSubmatch(s); m != nil {
		inner := m[1]
		// Newer ANGLE format is "vendor, model, backend"; older is just
		// "model backend"
		if parts := strings.Split(inner, ","); len(parts) >= 3 {
			s = strings.TrimSpace(parts[1])
		} else {
			s = strings.TrimSpace(inner)
		}
	}

	for _, suffix := range rendererSuffixes {
		if i := strings.Index(s, suffix); i >= 0 {
			s = s[:i]
		}
	}
	for _, noise := range rendererNoise {
		s = strings.ReplaceAll(s, noise, "")
	}

	return strings.TrimSpace(spacesRe.ReplaceAllString(s, " "))
}

// PositionalSimilarity returns the percentage of character positions at
// which two strings agree, measured against the longer string. Rendering
// fingerprints from different engines on the same GPU differ in a handful
// of positions, not wholesale.
func PositionalSimilarity(a, b string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shorter := len(a)
	longer := len(b)
	if shorter > longer {
		shorter, longer = longer, shorter
	}
	matched := 0
	for i := 0; i < shorter; i++ {
		if a[i] == b[i] {
			matched++
		}
	}
	return float64(matched) / float64(longer) * 100
}

// memoryMB unit-normalizes a reported memory size. Browsers report either
// gigabytes (navigator.deviceMemory: 0.25..64) or raw megabytes.
func memoryMB(v float64) float64 {
	if v <= 0 {
		return 0
	}
	if v <= 64 {
		return v * 1024
	}
	return v
}
