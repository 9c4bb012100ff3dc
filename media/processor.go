package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log"

	"github.com/disintegration/imaging"
)

const derivativeFileExtension = ".jpg"

// DerivativeSpec is the size bound and encoding quality of one derived tier.
type DerivativeSpec struct {
	MaxSize int
	Quality int
}

// Processor handles media transformations like thumbnailing and resizing. it
// relies on a Store implementation for saving the results.
type Processor struct {
	store Store
	specs map[AssetType]DerivativeSpec
}

func NewProcessor(store Store, display, thumbnail DerivativeSpec) *Processor {
	return &Processor{
		store: store,
		specs: map[AssetType]DerivativeSpec{
			AssetTypeDisplay:   display,
			AssetTypeThumbnail: thumbnail,
		},
	}
}

// Store returns the store the processor writes to.
func (p *Processor) Store() Store {
	return p.store
}

// Decode decodes an uploaded image, applying its EXIF orientation.
func (p *Processor) Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrUnsupportedImage, bounds.Dx(), bounds.Dy())
	}
	return img, nil
}

// SaveOriginal stores the upload byte for byte.
func (p *Processor) SaveOriginal(ctx context.Context, key, contentType string, data []byte) error {
	if err := p.store.Put(ctx, key, contentType, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to save original via store: %w", err)
	}
	return nil
}

// Resize fits img within the tier's bound, preserving aspect ratio. images already
// within the bound are returned unscaled.
func (p *Processor) Resize(img image.Image, tier AssetType) (image.Image, error) {
	spec, ok := p.specs[tier]
	if !ok {
		return nil, fmt.Errorf("no derivative spec for tier %s", tier)
	}
	return imaging.Fit(img, spec.MaxSize, spec.MaxSize, imaging.Lanczos), nil
}

// SaveDerivative resizes img for tier and stores it as JPEG under key. it returns the
// dimensions of the stored derivative.
func (p *Processor) SaveDerivative(ctx context.Context, img image.Image, tier AssetType, key string) (int, int, error) {
	derived, err := p.Resize(img, tier)
	if err != nil {
		return 0, 0, err
	}
	quality := p.specs[tier].Quality

	reader, writer := io.Pipe()
	go func() {
		defer writer.Close()
		err := imaging.Encode(writer, derived, imaging.JPEG, imaging.JPEGQuality(quality))
		if err != nil {
			log.Printf("processor: Failed to encode %s: %v", tier, err)
			writer.CloseWithError(fmt.Errorf("%s encoding failed: %w", tier, err))
		}
	}()

	err = p.store.Put(ctx, key, "image/jpeg", reader)
	// unblocks the encoder if Put returned before draining the pipe
	reader.Close()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to save %s via store: %w", tier, err)
	}

	bounds := derived.Bounds()
	return bounds.Dx(), bounds.Dy(), nil
}

// DerivativeExtension is the extension of every derived artifact.
func DerivativeExtension() string {
	return derivativeFileExtension
}
