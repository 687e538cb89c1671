package pipeline

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// stampDisplayFormat is how burned-in timestamps render on screen.
const stampDisplayFormat = "2006-01-02 15:04:05"

// writeStampsSRT writes a SubRip file with one cue per output frame. Cue k
// spans [k/fps, (k+1)/fps) and carries the wall clock of the source frame
// that frame k was kept from, formatted in the display timezone.
func writeStampsSRT(path string, stamps []FrameStamp, frameRate float64, loc *time.Location) error {
	if frameRate <= 0 {
		return fmt.Errorf("frame rate must be positive, got %v", frameRate)
	}
	if loc == nil {
		loc = time.UTC
	}

	var sb strings.Builder
	frameDur := float64(time.Second) / frameRate

	for i, stamp := range stamps {
		begin := time.Duration(float64(i) * frameDur)
		end := time.Duration(float64(i+1) * frameDur)
		fmt.Fprintf(&sb, "%d\n%s --> %s\n%s\n\n",
			i+1,
			formatSRTTime(begin),
			formatSRTTime(end),
			stamp.WallClock.In(loc).Format(stampDisplayFormat))
	}

	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

// formatSRTTime renders a duration as the SubRip HH:MM:SS,mmm form.
func formatSRTTime(d time.Duration) string {
	ms := d.Milliseconds()
	return fmt.Sprintf("%02d:%02d:%02d,%03d",
		ms/3600000, ms/60000%60, ms/1000%60, ms%1000)
}
