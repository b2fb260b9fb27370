package leafnet

import (
	"image"
	_ "image/gif"  // register GIF decoding
	_ "image/jpeg" // register JPEG decoding
	_ "image/png"  // register PNG decoding
	"os"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp" // register BMP decoding

	"github.com/leafscan/leafnet-go/internal/errors"
)

// LoadImage reads and decodes one image file. A file that cannot be decoded
// fails with an image-decode error and must not abort sibling images in the
// same batch; callers isolate the failure per item.
func LoadImage(path string) (image.Image, error) {
	file, err := os.Open(path) //nolint:gosec // G304: path comes from a stored record
	if err != nil {
		return nil, errors.Wrap(err).
			Component("leafnet").
			Category(errors.CategoryImageDecode).
			Context("path", path).
			Build()
	}
	defer func() {
		if err := file.Close(); err != nil {
			getLogger().Warn("failed to close image file", "path", path, "error", err)
		}
	}()

	img, format, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrap(err).
			Component("leafnet").
			Category(errors.CategoryImageDecode).
			Context("path", path).
			Build()
	}
	getLogger().Debug("decoded image", "path", path, "format", format)
	return img, nil
}

// preprocess reproduces the fixed training-time pipeline exactly: convert to
// 3-channel color, resize to the configured square resolution, scale to unit
// range, then normalize each channel by the fixed per-channel mean and
// standard deviation. Output layout is CHW to match the model input tensor.
func (ln *LeafNet) preprocess(img image.Image) []float32 {
	size := ln.Settings.Model.InputSize
	resized := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Src, nil)

	mean := ln.Settings.Model.Mean
	std := ln.Settings.Model.Std

	tensor := make([]float32, 3*size*size)
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			idx := y*size + x
			tensor[idx] = float32((float64(r>>8)/255.0 - mean[0]) / std[0])
			tensor[plane+idx] = float32((float64(g>>8)/255.0 - mean[1]) / std[1])
			tensor[2*plane+idx] = float32((float64(b>>8)/255.0 - mean[2]) / std[2])
		}
	}
	return tensor
}
