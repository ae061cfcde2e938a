package agent

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/PixelPilot-Labs/pixelpilot-go-agent/models"
	"go.uber.org/zap"
)

const (
	OrientationHorizontal = "horizontal"
	OrientationVertical   = "vertical"
)

// TemporalBuffer keeps a sliding window of recent frames and stitches them
// into a single filmstrip image, giving the decision service temporal
// context (motion, velocity) in one request.
type TemporalBuffer struct {
	size        int
	orientation string
	frames      []image.Image
	frameCount  int
	logger      *zap.Logger
}

// NewTemporalBuffer creates a buffer holding the last size frames.
// Orientation is "horizontal" or "vertical"; anything else falls back to
// horizontal.
func NewTemporalBuffer(size int, orientation string, logger *zap.Logger) *TemporalBuffer {
	if size < 1 {
		size = 3
	}
	if orientation != OrientationVertical {
		orientation = OrientationHorizontal
	}
	if logger == nil {
		logger = zap.L()
	}

	logger.Info("Temporal buffer initialized",
		zap.Int("size", size),
		zap.String("orientation", orientation))

	return &TemporalBuffer{
		size:        size,
		orientation: orientation,
		frames:      make([]image.Image, 0, size),
		logger:      logger,
	}
}

// AddFrame appends a frame, evicting the oldest when at capacity.
// The frame is copied so later mutation by the caller cannot corrupt
// the buffer.
func (tb *TemporalBuffer) AddFrame(frame image.Image) {
	if frame == nil {
		tb.logger.Warn("Ignoring nil frame")
		return
	}

	cp := copyFrame(frame)
	if len(tb.frames) == tb.size {
		copy(tb.frames, tb.frames[1:])
		tb.frames[len(tb.frames)-1] = cp
	} else {
		tb.frames = append(tb.frames, cp)
	}
	tb.frameCount++
}

// CreateFilmstrip stitches the buffered frames into one composite image,
// oldest to newest. When the buffer is not yet full, the newest frame is
// duplicated to pad remaining panels so the filmstrip always has exactly
// buffer-size panels. Returns nil if the buffer is empty.
func (tb *TemporalBuffer) CreateFilmstrip() image.Image {
	if len(tb.frames) == 0 {
		tb.logger.Warn("Cannot create filmstrip: buffer is empty")
		return nil
	}

	frames := make([]image.Image, 0, tb.size)
	frames = append(frames, tb.frames...)
	for len(frames) < tb.size {
		frames = append(frames, frames[len(frames)-1])
	}

	if tb.orientation == OrientationVertical {
		return stitchVertical(frames)
	}
	return stitchHorizontal(frames)
}

// CreateFilmstripWithSeparators is CreateFilmstrip plus a thin marker line
// between panels, for operator debugging of filmstrip alignment.
func (tb *TemporalBuffer) CreateFilmstripWithSeparators() image.Image {
	strip := tb.CreateFilmstrip()
	if strip == nil {
		return nil
	}

	canvas, ok := strip.(*image.RGBA)
	if !ok {
		return strip
	}

	marker := color.RGBA{R: 255, G: 255, B: 0, A: 255}
	bounds := canvas.Bounds()
	if tb.orientation == OrientationVertical {
		panel := bounds.Dy() / tb.size
		for i := 1; i < tb.size; i++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				canvas.SetRGBA(x, bounds.Min.Y+i*panel, marker)
			}
		}
	} else {
		panel := bounds.Dx() / tb.size
		for i := 1; i < tb.size; i++ {
			for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
				canvas.SetRGBA(bounds.Min.X+i*panel, y, marker)
			}
		}
	}
	return canvas
}

// FilmstripBase64 encodes the filmstrip for network transmission.
// Format is "PNG" or "JPEG". Any failure is reported as an error so the
// caller can treat it as "no filmstrip available" instead of crashing.
func (tb *TemporalBuffer) FilmstripBase64(format string) (string, error) {
	strip := tb.CreateFilmstrip()
	if strip == nil {
		return "", fmt.Errorf("no filmstrip available: buffer is empty")
	}

	var buf bytes.Buffer
	var err error
	switch strings.ToUpper(format) {
	case "JPEG", "JPG":
		err = jpeg.Encode(&buf, strip, nil)
	default:
		err = png.Encode(&buf, strip)
	}
	if err != nil {
		tb.logger.Error("Failed to encode filmstrip", zap.Error(err))
		return "", fmt.Errorf("failed to encode filmstrip: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())
	tb.logger.Debug("Encoded filmstrip", zap.Int("base64_chars", len(encoded)))
	return encoded, nil
}

// LatestFrame returns the most recent frame, or nil when empty.
func (tb *TemporalBuffer) LatestFrame() image.Image {
	if len(tb.frames) == 0 {
		return nil
	}
	return tb.frames[len(tb.frames)-1]
}

// Clear empties the buffer. The total frame counter is preserved.
func (tb *TemporalBuffer) Clear() {
	tb.frames = tb.frames[:0]
	tb.logger.Debug("Frame buffer cleared")
}

// Ready reports whether at least one frame is buffered.
func (tb *TemporalBuffer) Ready() bool {
	return len(tb.frames) > 0
}

// Len returns the number of frames currently buffered.
func (tb *TemporalBuffer) Len() int {
	return len(tb.frames)
}

// Info returns the buffer occupancy for the statistics surface.
func (tb *TemporalBuffer) Info() models.BufferInfo {
	return models.BufferInfo{
		BufferSize:    tb.size,
		CurrentFrames: len(tb.frames),
		TotalFrames:   tb.frameCount,
		Orientation:   tb.orientation,
		Ready:         tb.Ready(),
	}
}

func copyFrame(frame image.Image) image.Image {
	bounds := frame.Bounds()
	cp := image.NewRGBA(bounds)
	draw.Draw(cp, bounds, frame, bounds.Min, draw.Src)
	return cp
}

// stitchHorizontal lays panels out left to right: [T-2 | T-1 | T].
func stitchHorizontal(frames []image.Image) image.Image {
	totalWidth := 0
	maxHeight := 0
	for _, f := range frames {
		totalWidth += f.Bounds().Dx()
		if h := f.Bounds().Dy(); h > maxHeight {
			maxHeight = h
		}
	}

	strip := image.NewRGBA(image.Rect(0, 0, totalWidth, maxHeight))
	draw.Draw(strip, strip.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	x := 0
	for _, f := range frames {
		r := image.Rect(x, 0, x+f.Bounds().Dx(), f.Bounds().Dy())
		draw.Draw(strip, r, f, f.Bounds().Min, draw.Src)
		x += f.Bounds().Dx()
	}
	return strip
}

func stitchVertical(frames []image.Image) image.Image {
	maxWidth := 0
	totalHeight := 0
	for _, f := range frames {
		totalHeight += f.Bounds().Dy()
		if w := f.Bounds().Dx(); w > maxWidth {
			maxWidth = w
		}
	}

	strip := image.NewRGBA(image.Rect(0, 0, maxWidth, totalHeight))
	draw.Draw(strip, strip.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	y := 0
	for _, f := range frames {
		r := image.Rect(0, y, f.Bounds().Dx(), y+f.Bounds().Dy())
		draw.Draw(strip, r, f, f.Bounds().Min, draw.Src)
		y += f.Bounds().Dy()
	}
	return strip
}
