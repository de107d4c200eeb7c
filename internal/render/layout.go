// Package render turns a paid session into the printable poster artifact:
// it extracts waveform peaks from the uploaded audio, builds a QR code that
// links to the hosted clip, and composes the final PDF.
package render

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Layout is the customer-editable poster customization stored on the session.
type Layout struct {
	Template   string `json:"template"`   // "classic", "minimal", "full_bleed"
	Title      string `json:"title"`      // headline under the photo
	Caption    string `json:"caption"`    // smaller line, e.g. a date
	Accent     string `json:"accent"`     // hex color for waveform and QR, "#1a1a2e"
	Background string `json:"background"` // hex page background
	WaveStyle  string `json:"wave_style"` // "bars" or "line"
	Paper      string `json:"paper"`      // "A4", "A3" or "Letter"
}

var validTemplates = map[string]bool{"classic": true, "minimal": true, "full_bleed": true}
var validWaveStyles = map[string]bool{"bars": true, "line": true}
var validPapers = map[string]bool{"A4": true, "A3": true, "Letter": true}

// DefaultLayout is applied to freshly created sessions.
func DefaultLayout() Layout {
	return Layout{
		Template:   "classic",
		Accent:     "#1a1a2e",
		Background: "#ffffff",
		WaveStyle:  "bars",
		Paper:      "A4",
	}
}

// ParseLayout decodes and validates a stored or submitted layout.
func ParseLayout(raw json.RawMessage) (Layout, error) {
	l := DefaultLayout()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &l); err != nil {
			return l, fmt.Errorf("invalid layout: %w", err)
		}
	}
	if err := l.Validate(); err != nil {
		return l, err
	}
	return l, nil
}

// Validate checks enum fields and colors.
func (l Layout) Validate() error {
	if !validTemplates[l.Template] {
		return fmt.Errorf("unknown template %q", l.Template)
	}
	if !validWaveStyles[l.WaveStyle] {
		return fmt.Errorf("unknown wave_style %q", l.WaveStyle)
	}
	if !validPapers[l.Paper] {
		return fmt.Errorf("unknown paper %q", l.Paper)
	}
	if _, _, _, err := parseHexColor(l.Accent); err != nil {
		return fmt.Errorf("accent: %w", err)
	}
	if _, _, _, err := parseHexColor(l.Background); err != nil {
		return fmt.Errorf("background: %w", err)
	}
	if len(l.Title) > 120 {
		return fmt.Errorf("title too long (max 120)")
	}
	if len(l.Caption) > 200 {
		return fmt.Errorf("caption too long (max 200)")
	}
	return nil
}

func parseHexColor(s string) (r, g, b int, err error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return 0, 0, 0, fmt.Errorf("color must be #rrggbb, got %q", s)
	}
	var v int
	if _, err := fmt.Sscanf(strings.ToLower(s), "%06x", &v); err != nil {
		return 0, 0, 0, fmt.Errorf("color must be #rrggbb, got %q", s)
	}
	return v >> 16 & 0xff, v >> 8 & 0xff, v & 0xff, nil
}
