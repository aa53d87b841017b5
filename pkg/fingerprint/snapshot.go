package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Snapshot contains the hardware/browser signals captured for a device.
// Every field is optional; absent signals are simply left at their zero
// value and excluded from comparison.
type Snapshot struct {
	Platform            string    `json:"platform,omitempty"`
	Timezone            string    `json:"timezone,omitempty"`
	ScreenWidth         int       `json:"screen_width,omitempty"`
	ScreenHeight        int       `json:"screen_height,omitempty"`
	DevicePixelRatio    float64   `json:"device_pixel_ratio,omitempty"`
	Language            string    `json:"language,omitempty"`
	CPUModel            string    `json:"cpu_model,omitempty"`
	WebGLRenderer       string    `json:"webgl_renderer,omitempty"`
	CanvasFingerprint   string    `json:"canvas_fingerprint,omitempty"`
	WebGLFingerprint    string    `json:"webgl_fingerprint,omitempty"`
	HardwareFingerprint string    `json:"hardware_fingerprint,omitempty"`
	MemorySize          float64   `json:"memory_size,omitempty"`
	BrowserFamily       string    `json:"browser_family,omitempty"`
	CapturedAt          time.Time `json:"captured_at,omitempty"`
}

// IsZero reports whether the snapshot carries no signals at all
func (s Snapshot) IsZero() bool {
	return s.Platform == "" && s.Timezone == "" && s.ScreenWidth == 0 &&
		s.ScreenHeight == 0 && s.DevicePixelRatio == 0 && s.Language == "" &&
		s.CPUModel == "" && s.WebGLRenderer == "" && s.CanvasFingerprint == "" &&
		s.WebGLFingerprint == "" && s.HardwareFingerprint == "" && s.MemorySize == 0
}

// Composite derives a stable hardware fingerprint from the identifiers that
// survive browser restarts. It feeds Snapshot.HardwareFingerprint when the
// client did not compute one itself.
func Composite(s Snapshot) string {
	combined := fmt.Sprintf("%s|%s|%s|%s",
		s.Platform,
		s.CPUModel,
		s.CanvasFingerprint,
		s.WebGLFingerprint,
	)
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}

// FamilyFromUserAgent derives a coarse browser family from a User-Agent
// string. Order matters: Edge and Opera embed "Chrome", Chrome embeds
// "Safari".
func FamilyFromUserAgent(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "edg/") || strings.Contains(ua, "edge/"):
		return "edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		return "opera"
	case strings.Contains(ua, "firefox/"):
		return "firefox"
	case strings.Contains(ua, "chrome/") || strings.Contains(ua, "chromium/"):
		return "chrome"
	case strings.Contains(ua, "safari/"):
		return "safari"
	default:
		return "other"
	}
}

// NormalizeFamily lowercases and collapses known aliases of a reported
// browser family
func NormalizeFamily(family string) string {
	f := strings.ToLower(strings.TrimSpace(family))
	switch f {
	case "chromium", "google chrome":
		return "chrome"
	case "microsoft edge":
		return "edge"
	case "mozilla firefox":
		return "firefox"
	case "apple safari", "mobile safari":
		return "safari"
	case "":
		return "other"
	default:
		return f
	}
}
