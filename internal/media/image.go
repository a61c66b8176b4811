package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"time"

	// decoders for image.Decode
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"llms-gateway/internal/config"
	"llms-gateway/pkg/logging/logging"
)

const outputMIME = "image/jpeg"

// qualities are tried in order until the encoded image fits MaxLength.
var qualities = []int{85, 70, 55, 40}

// ImagePolicy bounds the images handed to providers. Images larger than
// MaxWidth x MaxHeight are downscaled preserving aspect ratio; images whose
// base64 form exceeds MaxLength bytes are re-encoded as JPEG. Transparent
// and paletted images are flattened onto white first.
type ImagePolicy struct {
	MaxWidth  int
	MaxHeight int
	MaxLength int64
}

// PolicyFromConfig returns nil when image conversion is not configured.
func PolicyFromConfig(c *config.ImageConvert) (*ImagePolicy, error) {
	if c == nil {
		return nil, nil
	}
	w, h, err := c.Dimensions()
	if err != nil {
		return nil, err
	}
	return &ImagePolicy{MaxWidth: w, MaxHeight: h, MaxLength: c.MaxLength}, nil
}

// Apply converts data when it violates the policy. It never fails: on any
// decode or encode problem the original bytes and MIME type are returned.
func (p *ImagePolicy) Apply(ctx context.Context, data []byte, mimeType string) ([]byte, string) {
	if p == nil {
		return data, mimeType
	}
	logger := logging.L(ctx)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		logger.Debug("image not decodable, passing through", zap.String("mime", mimeType), zap.Error(err))
		return data, mimeType
	}

	needsResize := cfg.Width > p.MaxWidth || cfg.Height > p.MaxHeight
	needsReencode := p.overBudget(len(data))
	if !needsResize && !needsReencode {
		return data, mimeType
	}

	start := time.Now()
	out, err := p.convert(data, needsResize)
	if err != nil {
		logger.Warn("image conversion failed, passing original", zap.Error(err))
		return data, mimeType
	}
	if !needsResize && len(out) >= len(data) {
		logger.Debug("re-encoding did not shrink image, passing original", zap.Int("bytes", len(data)))
		return data, mimeType
	}
	if p.overBudget(len(out)) {
		logger.Warn("image still over budget after conversion",
			zap.Int("bytes", len(out)),
			zap.Int64("max_length", p.MaxLength),
		)
	}

	logger.Debug("converted image",
		zap.Int("from_bytes", len(data)),
		zap.Int("to_bytes", len(out)),
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
		zap.Duration("duration", time.Since(start)),
	)
	return out, outputMIME
}

func (p *ImagePolicy) convert(data []byte, resize bool) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	img := flatten(src)
	if resize {
		img = thumbnail(img, p.MaxWidth, p.MaxHeight)
	}

	var buf bytes.Buffer
	for _, q := range qualities {
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
			return nil, fmt.Errorf("encode: %w", err)
		}
		if !p.overBudget(buf.Len()) {
			break
		}
	}
	return buf.Bytes(), nil
}

func (p *ImagePolicy) overBudget(n int) bool {
	return p.MaxLength > 0 && base64Len(n) > p.MaxLength
}

// flatten composites src over an opaque white background.
func flatten(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

// thumbnail scales img down to fit within maxW x maxH, keeping aspect ratio.
func thumbnail(img *image.RGBA, maxW, maxH int) *image.RGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	scale := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	if scale >= 1 {
		return img
	}
	nw := max(1, int(float64(w)*scale))
	nh := max(1, int(float64(h)*scale))

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

func base64Len(n int) int64 {
	return int64((n + 2) / 3 * 4)
}
