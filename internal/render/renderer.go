// Package render composes forum post cards into Instagram-ready images.
// Rendering is deterministic: identical content, config, logo bytes and clock
// produce identical output bytes.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"time"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
)

// Renderer errors
var (
	ErrFontMissing    = errors.New("renderer font set is unavailable")
	ErrCanvasTooSmall = errors.New("padding leaves no drawable canvas area")
	ErrBadLogo        = errors.New("logo asset cannot be decoded")
)

const ellipsis = "…"

// Content is the forum post material composed onto a card
type Content struct {
	ID            string
	Title         string
	Body          string
	AuthorDisplay string
	SchoolName    string
	CreatedAt     time.Time
}

// Renderer draws post cards. Now is the wall clock used for relative
// timestamps; override it in tests for reproducible output.
type Renderer struct {
	Now func() time.Time

	regular *sfnt.Font
	bold    *sfnt.Font
}

// New creates a renderer with the embedded Go font set
func New() (*Renderer, error) {
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFontMissing, err)
	}

	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFontMissing, err)
	}

	return &Renderer{
		Now:     time.Now,
		regular: regular,
		bold:    bold,
	}, nil
}

// line is a single positioned row of the centered text block
type line struct {
	text  string
	face  font.Face
	color color.NRGBA
	gap   int // extra pixels above this line
}

// Render composes a card and encodes it as JPEG or PNG per cfg.Format.
// Empty body text renders an empty card, never an error.
func (r *Renderer) Render(content Content, cfg Config, logo []byte) ([]byte, error) {
	if cfg.Width == 0 {
		cfg = DefaultConfig()
	}

	innerWidth := cfg.Width - 2*cfg.Padding
	innerHeight := cfg.Height - 2*cfg.Padding
	if innerWidth <= 0 || innerHeight <= 0 {
		return nil, ErrCanvasTooSmall
	}

	canvas := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	xdraw.Draw(canvas, canvas.Bounds(), image.NewUniform(cfg.BackgroundColor), image.Point{}, xdraw.Src)

	bodyFace, err := r.face(r.regular, cfg.FontSize)
	if err != nil {
		return nil, err
	}
	defer bodyFace.Close()

	block, err := r.buildBlock(content, cfg, bodyFace, innerWidth)
	if err != nil {
		return nil, err
	}

	r.drawBlock(canvas, block, cfg)

	if err := r.drawOverlays(canvas, content, cfg); err != nil {
		return nil, err
	}

	if cfg.Logo.Enabled && len(logo) > 0 {
		if err := drawLogo(canvas, logo, cfg); err != nil {
			return nil, err
		}
	}

	return encode(canvas, cfg.Format)
}

func (r *Renderer) face(f *sfnt.Font, size float64) (font.Face, error) {
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFontMissing, err)
	}
	return face, nil
}

// buildBlock assembles school name, title and wrapped body into a single
// vertically positioned block. MaxLines caps body lines only.
func (r *Renderer) buildBlock(content Content, cfg Config, bodyFace font.Face, innerWidth int) ([]line, error) {
	var block []line

	if content.SchoolName != "" {
		face, err := r.face(r.bold, cfg.FontSize*0.85)
		if err != nil {
			return nil, err
		}
		block = append(block, line{text: content.SchoolName, face: face, color: cfg.PrimaryColor})
	}

	if content.Title != "" {
		face, err := r.face(r.bold, cfg.FontSize*1.15)
		if err != nil {
			return nil, err
		}
		for i, text := range wrapText(face, content.Title, innerWidth) {
			gap := cfg.LineSpacing
			if i == 0 && len(block) > 0 {
				gap = cfg.LineSpacing * 2
			}
			block = append(block, line{text: text, face: face, color: cfg.PrimaryColor, gap: gap})
		}
	}

	if strings.TrimSpace(content.Body) != "" {
		bodyLines := wrapText(bodyFace, content.Body, innerWidth)
		bodyLines = capLines(bodyFace, bodyLines, cfg.MaxLines, innerWidth)
		for i, text := range bodyLines {
			gap := cfg.LineSpacing
			if i == 0 && len(block) > 0 {
				gap = cfg.LineSpacing * 2
			}
			block = append(block, line{text: text, face: bodyFace, color: cfg.TextColor, gap: gap})
		}
	}

	if content.AuthorDisplay != "" {
		face, err := r.face(r.regular, cfg.FontSize*0.7)
		if err != nil {
			return nil, err
		}
		gap := 0
		if len(block) > 0 {
			gap = cfg.LineSpacing * 2
		}
		block = append(block, line{text: content.AuthorDisplay, face: face, color: cfg.TextColor, gap: gap})
	}

	return block, nil
}

func (r *Renderer) drawBlock(canvas *image.RGBA, block []line, cfg Config) {
	if len(block) == 0 {
		return
	}

	total := 0
	for i, ln := range block {
		if i > 0 {
			total += ln.gap
		}
		total += lineHeight(ln.face)
	}

	innerHeight := cfg.Height - 2*cfg.Padding
	y := cfg.Padding
	switch cfg.VerticalAlign {
	case VAlignMiddle:
		if total < innerHeight {
			y += (innerHeight - total) / 2
		}
	case VAlignBottom:
		if total < innerHeight {
			y += innerHeight - total
		}
	}

	for i, ln := range block {
		if i > 0 {
			y += ln.gap
		}

		metrics := ln.face.Metrics()
		baseline := y + metrics.Ascent.Ceil()

		width := font.MeasureString(ln.face, ln.text).Ceil()
		var x int
		switch cfg.TextAlign {
		case AlignLeft:
			x = cfg.Padding
		case AlignRight:
			x = cfg.Width - cfg.Padding - width
		default:
			x = (cfg.Width - width) / 2
		}

		drawString(canvas, ln.face, ln.text, ln.color, x, baseline)
		y += lineHeight(ln.face)
	}
}

func (r *Renderer) drawOverlays(canvas *image.RGBA, content Content, cfg Config) error {
	inset := overlayInset(cfg)

	if cfg.Timestamp.Enabled {
		face, err := r.face(r.regular, cfg.Timestamp.Size)
		if err != nil {
			return err
		}
		defer face.Close()

		text := formatTimestamp(cfg.Timestamp.Format, content.CreatedAt, r.Now())
		drawCorner(canvas, face, text, cfg.Timestamp.Color, cfg.Timestamp.Position, inset)
	}

	if cfg.PostID.Enabled && content.ID != "" {
		face, err := r.face(r.regular, cfg.PostID.Size)
		if err != nil {
			return err
		}
		defer face.Close()

		text := strings.ReplaceAll(cfg.PostID.Format, "{ID}", content.ID)
		drawCorner(canvas, face, text, cfg.PostID.Color, cfg.PostID.Position, inset)
	}

	return nil
}

func overlayInset(cfg Config) int {
	inset := cfg.Padding / 2
	if inset < 16 {
		inset = 16
	}
	return inset
}

func drawCorner(canvas *image.RGBA, face font.Face, text string, col color.NRGBA, pos Position, inset int) {
	metrics := face.Metrics()
	width := font.MeasureString(face, text).Ceil()
	bounds := canvas.Bounds()

	x := inset
	if pos == PositionTopRight || pos == PositionBottomRight {
		x = bounds.Dx() - inset - width
	}

	baseline := inset + metrics.Ascent.Ceil()
	if pos == PositionBottomLeft || pos == PositionBottomRight {
		baseline = bounds.Dy() - inset - metrics.Descent.Ceil()
	}

	drawString(canvas, face, text, col, x, baseline)
}

func drawString(canvas *image.RGBA, face font.Face, text string, col color.NRGBA, x, baseline int) {
	d := font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(text)
}

func drawLogo(canvas *image.RGBA, logo []byte, cfg Config) error {
	img, _, err := image.Decode(bytes.NewReader(logo))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadLogo, err)
	}

	box := cfg.Logo.Size
	width, height := fitBox(img.Bounds().Dx(), img.Bounds().Dy(), box)

	inset := overlayInset(cfg)
	x := inset
	if cfg.Logo.Position == PositionTopRight || cfg.Logo.Position == PositionBottomRight {
		x = cfg.Width - inset - width
	}
	y := inset
	if cfg.Logo.Position == PositionBottomLeft || cfg.Logo.Position == PositionBottomRight {
		y = cfg.Height - inset - height
	}

	dst := image.Rect(x, y, x+width, y+height)
	xdraw.CatmullRom.Scale(canvas, dst, img, img.Bounds(), xdraw.Over, nil)
	return nil
}

// fitBox scales dimensions down to fit a square box, preserving aspect ratio
func fitBox(width, height, box int) (int, int) {
	if width <= box && height <= box {
		return width, height
	}
	if width > height {
		return box, int(float64(height) * float64(box) / float64(width))
	}
	return int(float64(width) * float64(box) / float64(height)), box
}

func lineHeight(face font.Face) int {
	metrics := face.Metrics()
	return metrics.Ascent.Ceil() + metrics.Descent.Ceil()
}

// wrapText wraps at word boundaries; a word wider than the inner width is
// split at rune boundaries.
func wrapText(face font.Face, text string, maxWidth int) []string {
	var lines []string

	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}

		current := ""
		for _, word := range words {
			candidate := word
			if current != "" {
				candidate = current + " " + word
			}
			if font.MeasureString(face, candidate).Ceil() <= maxWidth {
				current = candidate
				continue
			}

			if current != "" {
				lines = append(lines, current)
				current = ""
			}

			for font.MeasureString(face, word).Ceil() > maxWidth {
				prefix := widestPrefix(face, word, maxWidth)
				lines = append(lines, prefix)
				word = word[len(prefix):]
			}
			current = word
		}
		if current != "" {
			lines = append(lines, current)
		}
	}

	// Trim trailing blank lines left by paragraph splitting
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	return lines
}

// widestPrefix returns the longest rune prefix of word that fits maxWidth,
// always at least one rune so progress is guaranteed
func widestPrefix(face font.Face, word string, maxWidth int) string {
	prev := ""
	for i := range word {
		if i == 0 {
			continue
		}
		if font.MeasureString(face, word[:i]).Ceil() > maxWidth {
			if prev == "" {
				return word[:i]
			}
			return prev
		}
		prev = word[:i]
	}
	if prev == "" {
		return word
	}
	return prev
}

// capLines enforces the hard line cap, marking overflow with an ellipsis on
// the last visible line
func capLines(face font.Face, lines []string, maxLines, maxWidth int) []string {
	if maxLines <= 0 || len(lines) <= maxLines {
		return lines
	}

	lines = lines[:maxLines]
	last := lines[maxLines-1]
	for last != "" && font.MeasureString(face, last+ellipsis).Ceil() > maxWidth {
		runes := []rune(last)
		last = strings.TrimRight(string(runes[:len(runes)-1]), " ")
	}
	lines[maxLines-1] = last + ellipsis
	return lines
}

func formatTimestamp(format string, created, now time.Time) string {
	if format == "" || format == TimestampRelative {
		return relativeTime(now, created)
	}
	return created.Format(patternToLayout(format))
}

func relativeTime(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// patternToLayout converts YYYY-MM-DD style patterns to a Go time layout
func patternToLayout(pattern string) string {
	return strings.NewReplacer(
		"YYYY", "2006",
		"MM", "01",
		"DD", "02",
		"HH", "15",
		"mm", "04",
		"ss", "05",
	).Replace(pattern)
}

func encode(canvas *image.RGBA, format string) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case "png":
		if err := png.Encode(&buf, canvas); err != nil {
			return nil, fmt.Errorf("encoding png: %w", err)
		}
	default:
		if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: 90}); err != nil {
			return nil, fmt.Errorf("encoding jpeg: %w", err)
		}
	}
	return buf.Bytes(), nil
}
