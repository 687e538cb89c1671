package pipeline

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/exacqman/internal/exacq"
)

// FrameStamp labels one frame of a downloaded clip with its wall-clock
// instant. Stamps are derived from VMS clip metadata, never from file
// inspection: wall clock = clip start + index / source frame rate.
type FrameStamp struct {
	Index     int // frame position in the downloaded file, 0-based
	WallClock time.Time
}

// BuildStamps computes the stamp table for a single contiguous clip of
// frameCount frames starting at clipStart, at the source frame rate.
func BuildStamps(clipStart time.Time, frameRate float64, frameCount int) []FrameStamp {
	stamps := make([]FrameStamp, 0, frameCount)
	for i := 0; i < frameCount; i++ {
		offset := time.Duration(float64(i) / frameRate * float64(time.Second))
		stamps = append(stamps, FrameStamp{Index: i, WallClock: clipStart.Add(offset)})
	}
	return stamps
}

// BuildClipStamps computes the stamp table for a downloaded file assembled
// from one or more recorded clips, concatenated in order. Gaps between
// clips exist in wall-clock time but not in the file, so the frame index
// runs continuously while the wall clock jumps forward at clip boundaries.
func BuildClipStamps(clips []exacq.Clip, frameRate float64) ([]FrameStamp, error) {
	if frameRate <= 0 {
		return nil, fmt.Errorf("frame rate must be positive, got %v", frameRate)
	}

	var stamps []FrameStamp
	index := 0
	var prev time.Time

	for i, clip := range clips {
		if clip.End.Before(clip.Start) {
			return nil, fmt.Errorf("clip %d: end %s before start %s", i, clip.End, clip.Start)
		}
		if clip.Start.Before(prev) {
			return nil, fmt.Errorf("clip %d: starts at %s, before previous clip end %s", i, clip.Start, prev)
		}
		prev = clip.End

		frames := ClipFrameCount(clip, frameRate)
		for f := 0; f < frames; f++ {
			offset := time.Duration(float64(f) / frameRate * float64(time.Second))
			stamps = append(stamps, FrameStamp{Index: index, WallClock: clip.Start.Add(offset)})
			index++
		}
	}

	log.Debug().
		Int("clips", len(clips)).
		Int("frames", len(stamps)).
		Float64("frame_rate", frameRate).
		Msg("Frame timestamp table built")

	return stamps, nil
}

// ClipFrameCount returns the number of frames a clip contributes to the
// downloaded file at the given source frame rate.
func ClipFrameCount(clip exacq.Clip, frameRate float64) int {
	seconds := clip.End.Sub(clip.Start).Seconds()
	frames := int(seconds * frameRate)
	if frames < 1 && seconds > 0 {
		frames = 1
	}
	return frames
}

// DecimatedFrameCount returns ceil(frameCount / multiplier): the number of
// frames a timelapse pass keeps.
func DecimatedFrameCount(frameCount, multiplier int) int {
	if multiplier < 1 {
		multiplier = 1
	}
	return (frameCount + multiplier - 1) / multiplier
}

// DecimateStamps resamples the stamp table alongside timelapse decimation:
// every Nth stamp is kept and re-indexed, so the label attached to a kept
// output frame is the wall clock of the source frame that was kept, never
// an interpolated value. A multiplier of 1 returns a re-indexed copy.
func DecimateStamps(stamps []FrameStamp, multiplier int) []FrameStamp {
	if multiplier < 1 {
		multiplier = 1
	}
	kept := make([]FrameStamp, 0, DecimatedFrameCount(len(stamps), multiplier))
	for i := 0; i < len(stamps); i += multiplier {
		kept = append(kept, FrameStamp{Index: len(kept), WallClock: stamps[i].WallClock})
	}
	return kept
}
