package assets

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/wippyai/asset-runtime/errors"
	"github.com/wippyai/asset-runtime/resource"
)

const bytesPerPixel = 4

// Texture is a decoded image in RGBA form.
type Texture struct {
	mu     sync.RWMutex
	desc   Image
	img    *image.RGBA
	format string
}

// Load decodes the image named by an Image or File descriptor.
func (t *Texture) Load(ctx context.Context, m *resource.Manager, desc resource.Descriptor) error {
	var d Image
	switch v := desc.(type) {
	case Image:
		d = v
	case File:
		d = Image{File: v}
	default:
		return descriptorError("Image", desc)
	}

	img, format, err := decodeImage(ctx, d, errors.PhaseLoad, false)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.desc = d
	t.img = img
	t.format = format
	t.mu.Unlock()

	b := img.Bounds()
	Logger().Debug("texture loaded",
		zap.String("path", d.Path),
		zap.String("format", format),
		zap.Int("width", b.Dx()),
		zap.Int("height", b.Dy()))
	return nil
}

// Reload decodes the file again. On failure the previous pixels stay.
func (t *Texture) Reload(ctx context.Context, m *resource.Manager) error {
	t.mu.RLock()
	d := t.desc
	t.mu.RUnlock()

	img, format, err := decodeImage(ctx, d, errors.PhaseReload, true)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.img = img
	t.format = format
	t.mu.Unlock()
	return nil
}

// Unload drops the pixels.
func (t *Texture) Unload(m *resource.Manager) {
	t.mu.Lock()
	t.img = nil
	t.mu.Unlock()
}

// Image returns the pixels. The image must not be modified.
func (t *Texture) Image() *image.RGBA {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.img
}

// Format returns the codec name the image was decoded with.
func (t *Texture) Format() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.format
}

// Size returns the decoded size in bytes.
func (t *Texture) Size() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.img == nil {
		return 0
	}
	return int64(len(t.img.Pix))
}

func decodeImage(ctx context.Context, d Image, phase errors.Phase, valid bool) (*image.RGBA, string, error) {
	data, err := d.read(ctx, phase, valid)
	if err != nil {
		return nil, "", err
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", failure(phase, d.Path, errors.Corrupted(errors.PhaseDecode, "image header", err, valid), valid)
	}
	need := int64(cfg.Width) * int64(cfg.Height) * bytesPerPixel
	if d.Budget > 0 && need > d.Budget {
		return nil, "", failure(phase, d.Path, errors.OutOfMemory(errors.PhaseDecode, need, d.Budget, valid), valid)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", failure(phase, d.Path, errors.Corrupted(errors.PhaseDecode, format+" data", err, valid), valid)
	}
	return toRGBA(src, d.MaxDim), format, nil
}

// toRGBA converts src, scaling it down to fit maxDim when set.
func toRGBA(src image.Image, maxDim int) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim > 0 && (w > maxDim || h > maxDim) {
		if w >= h {
			h = max(1, h*maxDim/w)
			w = maxDim
		} else {
			w = max(1, w*maxDim/h)
			h = maxDim
		}
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Src, nil)
		return dst
	}

	if rgba, ok := src.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.Draw(dst, dst.Bounds(), src, b.Min, xdraw.Src)
	return dst
}
