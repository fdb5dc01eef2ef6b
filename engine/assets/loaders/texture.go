package loaders

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/spaghettifunk/kiln/engine/renderer/driver"
	"github.com/spaghettifunk/kiln/engine/renderer/frame"
)

// TextureLoader decodes png, jpeg, bmp, tiff and webp images into RGBA8
// textures with a full mip chain.
type TextureLoader struct {
	// Linear keeps the texels in linear space, for normal and
	// metallic-roughness maps. Colour maps are sRGB.
	Linear bool
}

func (tl *TextureLoader) Load(path string) (*Resource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening texture %s", path)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding texture %s", path)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	data := tl.TextureData(name, img)

	var size uint64
	for _, mip := range data.Mips {
		size += uint64(len(mip))
	}
	return &Resource{
		Name:     name,
		FullPath: path,
		Type:     ResourceTypeImage,
		DataSize: size,
		Data:     data,
	}, nil
}

func (tl *TextureLoader) Unload(*Resource) error {
	return nil
}

// TextureData builds the upload description of an already decoded image.
func (tl *TextureLoader) TextureData(name string, img image.Image) frame.TextureData {
	format := driver.FormatR8G8B8A8Srgb
	if tl.Linear {
		format = driver.FormatR8G8B8A8Unorm
	}
	b := img.Bounds()
	return frame.TextureData{
		Name:   name,
		Width:  uint32(b.Dx()),
		Height: uint32(b.Dy()),
		Format: format,
		Mips:   BuildMipChain(img),
	}
}

// BuildMipChain returns tightly packed, non premultiplied RGBA8 levels from
// the full size image down to 1x1. Each level is filtered from the one above.
func BuildMipChain(img image.Image) [][]byte {
	b := img.Bounds()
	if b.Empty() {
		return nil
	}
	base := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(base, base.Bounds(), img, b.Min, draw.Src)

	mips := [][]byte{base.Pix}
	prev := base
	for w, h := b.Dx(), b.Dy(); w > 1 || h > 1; {
		w, h = max(w/2, 1), max(h/2, 1)
		next := image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.BiLinear.Scale(next, next.Bounds(), prev, prev.Bounds(), draw.Src, nil)
		mips = append(mips, next.Pix)
		prev = next
	}
	return mips
}
