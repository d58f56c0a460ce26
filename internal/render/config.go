package render

import (
	"fmt"
	"image/color"
	"strings"
)

// Align is horizontal text alignment
type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

// VAlign is vertical placement of the text block
type VAlign string

const (
	VAlignTop    VAlign = "top"
	VAlignMiddle VAlign = "middle"
	VAlignBottom VAlign = "bottom"
)

// Position is a corner anchor for overlays and the logo
type Position string

const (
	PositionTopLeft     Position = "top-left"
	PositionTopRight    Position = "top-right"
	PositionBottomLeft  Position = "bottom-left"
	PositionBottomRight Position = "bottom-right"
)

// TimestampRelative renders "5m ago" style timestamps computed at render time.
// Any other timestamp format value is treated as an absolute pattern
// (YYYY, MM, DD, HH, mm, ss tokens).
const TimestampRelative = "relative"

// OverlayConfig configures a corner text overlay
type OverlayConfig struct {
	Enabled  bool
	Position Position
	Format   string
	Size     float64
	Color    color.NRGBA
}

// LogoConfig configures the school logo overlay
type LogoConfig struct {
	Enabled  bool
	Size     int // bounding box in pixels, logo is scaled to fit
	Position Position
}

// Config is the normalized, validated template configuration the renderer
// consumes. Raw template config bags are converted via ParseConfig.
type Config struct {
	Width           int
	Height          int
	BackgroundColor color.NRGBA
	Padding         int
	FontFamily      string
	FontSize        float64
	PrimaryColor    color.NRGBA
	TextColor       color.NRGBA
	LineSpacing     int
	TextAlign       Align
	VerticalAlign   VAlign
	MaxLines        int
	Format          string // "jpeg" or "png"
	Logo            LogoConfig
	Timestamp       OverlayConfig
	PostID          OverlayConfig
}

// DefaultConfig returns the renderer defaults for an empty config bag
func DefaultConfig() Config {
	return Config{
		Width:           1080,
		Height:          1080,
		BackgroundColor: color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff},
		Padding:         60,
		FontFamily:      "system",
		FontSize:        28,
		PrimaryColor:    color.NRGBA{R: 0x11, G: 0x11, B: 0x11, A: 0xff},
		TextColor:       color.NRGBA{R: 0x11, G: 0x11, B: 0x11, A: 0xff},
		LineSpacing:     10,
		TextAlign:       AlignCenter,
		VerticalAlign:   VAlignMiddle,
		MaxLines:        15,
		Format:          "jpeg",
		Logo: LogoConfig{
			Enabled:  false,
			Size:     120,
			Position: PositionTopRight,
		},
		Timestamp: OverlayConfig{
			Enabled:  false,
			Position: PositionBottomRight,
			Format:   TimestampRelative,
			Size:     18,
			Color:    color.NRGBA{R: 0x88, G: 0x88, B: 0x88, A: 0xff},
		},
		PostID: OverlayConfig{
			Enabled:  false,
			Position: PositionTopLeft,
			Format:   "#{ID}",
			Size:     18,
			Color:    color.NRGBA{R: 0x88, G: 0x88, B: 0x88, A: 0xff},
		},
	}
}

// ConfigError reports a rejected template config key
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid template config: key %q: %s", e.Key, e.Reason)
}

// ParseConfig normalizes a raw template config bag into a Config.
// In strict mode unrecognized keys are rejected; in lenient mode they are
// ignored. Recognized keys with invalid values are rejected in both modes.
func ParseConfig(bag map[string]any, strict bool) (Config, error) {
	cfg := DefaultConfig()

	for key, raw := range bag {
		if err := applyKey(&cfg, key, raw); err != nil {
			var cfgErr *ConfigError
			if isUnknownKey(err, &cfgErr) && !strict {
				continue
			}
			return Config{}, err
		}
	}

	return cfg, nil
}

func isUnknownKey(err error, out **ConfigError) bool {
	cfgErr, ok := err.(*ConfigError)
	if !ok {
		return false
	}
	*out = cfgErr
	return cfgErr.Reason == "unrecognized key"
}

func applyKey(cfg *Config, key string, raw any) error {
	switch key {
	case "width":
		return setInt(&cfg.Width, key, raw, 320, 4096)
	case "height":
		return setInt(&cfg.Height, key, raw, 320, 4096)
	case "background_color":
		return setColor(&cfg.BackgroundColor, key, raw)
	case "padding":
		return setInt(&cfg.Padding, key, raw, 0, 2048)
	case "font_family":
		return setString(&cfg.FontFamily, key, raw)
	case "font_size_content":
		return setFloat(&cfg.FontSize, key, raw, 8, 200)
	case "primary_color":
		return setColor(&cfg.PrimaryColor, key, raw)
	case "text_color":
		return setColor(&cfg.TextColor, key, raw)
	case "line_spacing":
		return setInt(&cfg.LineSpacing, key, raw, 0, 200)
	case "text_align":
		s, err := stringValue(key, raw)
		if err != nil {
			return err
		}
		switch Align(s) {
		case AlignLeft, AlignCenter, AlignRight:
			cfg.TextAlign = Align(s)
			return nil
		}
		return &ConfigError{Key: key, Reason: fmt.Sprintf("unsupported alignment %q", s)}
	case "vertical_align":
		s, err := stringValue(key, raw)
		if err != nil {
			return err
		}
		switch VAlign(s) {
		case VAlignTop, VAlignMiddle, VAlignBottom:
			cfg.VerticalAlign = VAlign(s)
			return nil
		}
		return &ConfigError{Key: key, Reason: fmt.Sprintf("unsupported alignment %q", s)}
	case "max_lines":
		return setInt(&cfg.MaxLines, key, raw, 1, 100)
	case "format":
		s, err := stringValue(key, raw)
		if err != nil {
			return err
		}
		if s != "jpeg" && s != "png" {
			return &ConfigError{Key: key, Reason: fmt.Sprintf("unsupported format %q", s)}
		}
		cfg.Format = s
		return nil
	case "logo_enabled":
		return setBool(&cfg.Logo.Enabled, key, raw)
	case "logo_size":
		return setInt(&cfg.Logo.Size, key, raw, 16, 1024)
	case "logo_position":
		return setPosition(&cfg.Logo.Position, key, raw)
	case "timestamp_enabled":
		return setBool(&cfg.Timestamp.Enabled, key, raw)
	case "timestamp_position":
		return setPosition(&cfg.Timestamp.Position, key, raw)
	case "timestamp_format":
		return setString(&cfg.Timestamp.Format, key, raw)
	case "timestamp_size":
		return setFloat(&cfg.Timestamp.Size, key, raw, 8, 100)
	case "timestamp_color":
		return setColor(&cfg.Timestamp.Color, key, raw)
	case "post_id_enabled":
		return setBool(&cfg.PostID.Enabled, key, raw)
	case "post_id_format":
		return setString(&cfg.PostID.Format, key, raw)
	case "post_id_position":
		return setPosition(&cfg.PostID.Position, key, raw)
	case "post_id_size":
		return setFloat(&cfg.PostID.Size, key, raw, 8, 100)
	case "post_id_color":
		return setColor(&cfg.PostID.Color, key, raw)
	default:
		return &ConfigError{Key: key, Reason: "unrecognized key"}
	}
}

func setPosition(dst *Position, key string, raw any) error {
	s, err := stringValue(key, raw)
	if err != nil {
		return err
	}
	switch Position(s) {
	case PositionTopLeft, PositionTopRight, PositionBottomLeft, PositionBottomRight:
		*dst = Position(s)
		return nil
	}
	return &ConfigError{Key: key, Reason: fmt.Sprintf("unsupported position %q", s)}
}

func setString(dst *string, key string, raw any) error {
	s, err := stringValue(key, raw)
	if err != nil {
		return err
	}
	if s == "" {
		return &ConfigError{Key: key, Reason: "empty value"}
	}
	*dst = s
	return nil
}

func setBool(dst *bool, key string, raw any) error {
	b, ok := raw.(bool)
	if !ok {
		return &ConfigError{Key: key, Reason: "expected a boolean"}
	}
	*dst = b
	return nil
}

func setInt(dst *int, key string, raw any, min, max int) error {
	f, err := numberValue(key, raw)
	if err != nil {
		return err
	}
	n := int(f)
	if float64(n) != f {
		return &ConfigError{Key: key, Reason: "expected an integer"}
	}
	if n < min || n > max {
		return &ConfigError{Key: key, Reason: fmt.Sprintf("value %d out of range [%d, %d]", n, min, max)}
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string, raw any, min, max float64) error {
	f, err := numberValue(key, raw)
	if err != nil {
		return err
	}
	if f < min || f > max {
		return &ConfigError{Key: key, Reason: fmt.Sprintf("value %g out of range [%g, %g]", f, min, max)}
	}
	*dst = f
	return nil
}

func setColor(dst *color.NRGBA, key string, raw any) error {
	s, err := stringValue(key, raw)
	if err != nil {
		return err
	}
	c, ok := parseHexColor(s)
	if !ok {
		return &ConfigError{Key: key, Reason: fmt.Sprintf("invalid hex color %q", s)}
	}
	*dst = c
	return nil
}

func stringValue(key string, raw any) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", &ConfigError{Key: key, Reason: "expected a string"}
	}
	return s, nil
}

// numberValue accepts the numeric shapes produced by JSON decoding
func numberValue(key string, raw any) (float64, error) {
	switch n := raw.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, &ConfigError{Key: key, Reason: "expected a number"}
	}
}

func parseHexColor(s string) (color.NRGBA, bool) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return color.NRGBA{}, false
	}

	var rgb [3]uint8
	for i := 0; i < 3; i++ {
		hi, ok1 := hexDigit(s[i*2])
		lo, ok2 := hexDigit(s[i*2+1])
		if !ok1 || !ok2 {
			return color.NRGBA{}, false
		}
		rgb[i] = hi<<4 | lo
	}

	return color.NRGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 0xff}, true
}

func hexDigit(b byte) (uint8, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	default:
		return 0, false
	}
}
