package outputs

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// DefaultThumbnailMaxDimension is the maximum width or height of a generated
// thumbnail.
const DefaultThumbnailMaxDimension = 480

// Thumbnail extracts a poster frame from the named video and returns it as a
// JPEG, downscaled so neither dimension exceeds maxDimension. The frame is
// taken at the 1-second mark to skip black lead-in frames, falling back to
// the first frame for clips shorter than a second.
func (d *Dir) Thumbnail(filename string, maxDimension int) ([]byte, error) {
	if maxDimension <= 0 {
		maxDimension = DefaultThumbnailMaxDimension
	}

	videoPath, err := d.Path(filename)
	if err != nil {
		return nil, err
	}

	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: thumbnail generation requires ffmpeg")
	}

	tmpFile, err := os.CreateTemp("", "thumb-*.png")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	// scale filter: downscale only if larger, preserve aspect ratio, keep
	// even height for the encoder.
	vf := fmt.Sprintf("scale='min(%d,iw)':-2", maxDimension)
	cmd := exec.Command(ffmpegPath,
		"-i", videoPath,
		"-ss", "1",
		"-vframes", "1",
		"-vf", vf,
		"-f", "image2",
		"-y", tmpPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		// Retry at 0s in case the video is shorter than 1 second.
		cmd = exec.Command(ffmpegPath,
			"-i", videoPath,
			"-vframes", "1",
			"-vf", vf,
			"-f", "image2",
			"-y", tmpPath,
		)
		output2, err2 := cmd.CombinedOutput()
		if err2 != nil {
			return nil, fmt.Errorf("ffmpeg frame extraction failed: %w: %s / %s", err2, string(output), string(output2))
		}
	}

	frameFile, err := os.Open(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("read extracted frame: %w", err)
	}
	defer frameFile.Close()

	img, err := png.Decode(frameFile)
	if err != nil {
		return nil, fmt.Errorf("decode extracted frame: %w", err)
	}

	img = downscale(img, maxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}

	log.Debug().
		Str("file", filepath.Base(videoPath)).
		Int("thumb_size", buf.Len()).
		Msg("Thumbnail generated")
	return buf.Bytes(), nil
}

// downscale resizes img so neither dimension exceeds maxDimension,
// preserving aspect ratio. Images already small enough pass through.
func downscale(img image.Image, maxDimension int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDimension && h <= maxDimension {
		return img
	}

	var newW, newH int
	if w > h {
		newW = maxDimension
		newH = h * maxDimension / w
	} else {
		newH = maxDimension
		newW = w * maxDimension / h
	}

	resized := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized
}
