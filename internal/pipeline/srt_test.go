package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriteStampsSRT(t *testing.T) {
	start := time.Date(2025, 3, 11, 18, 0, 0, 0, time.UTC)
	stamps := []FrameStamp{
		{Index: 0, WallClock: start},
		{Index: 1, WallClock: start.Add(10 * time.Second)},
		{Index: 2, WallClock: start.Add(20 * time.Second)},
	}

	path := filepath.Join(t.TempDir(), "stamps.srt")
	if err := writeStampsSRT(path, stamps, 2.0, time.UTC); err != nil {
		t.Fatalf("writeStampsSRT failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read srt: %v", err)
	}
	content := string(data)

	// Cue k spans [k/fps, (k+1)/fps); at 2 fps each cue lasts 500 ms.
	wantCues := []string{
		"1\n00:00:00,000 --> 00:00:00,500\n2025-03-11 18:00:00\n",
		"2\n00:00:00,500 --> 00:00:01,000\n2025-03-11 18:00:10\n",
		"3\n00:00:01,000 --> 00:00:01,500\n2025-03-11 18:00:20\n",
	}
	for _, cue := range wantCues {
		if !strings.Contains(content, cue) {
			t.Errorf("missing cue %q in:\n%s", cue, content)
		}
	}
}

func TestWriteStampsSRTTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Skipf("zone database unavailable: %v", err)
	}

	// 2 am UTC renders as the previous evening in Los Angeles.
	stamps := []FrameStamp{{Index: 0, WallClock: time.Date(2025, 3, 12, 2, 0, 0, 0, time.UTC)}}
	path := filepath.Join(t.TempDir(), "stamps.srt")
	if err := writeStampsSRT(path, stamps, 30.0, loc); err != nil {
		t.Fatalf("writeStampsSRT failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "2025-03-11 19:00:00") {
		t.Errorf("expected local-time label, got:\n%s", data)
	}
}

func TestWriteStampsSRTRejectsBadRate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stamps.srt")
	if err := writeStampsSRT(path, nil, 0, time.UTC); err == nil {
		t.Fatal("expected error for zero frame rate")
	}
}

func TestFormatSRTTime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00,000"},
		{1500 * time.Millisecond, "00:00:01,500"},
		{90 * time.Minute, "01:30:00,000"},
		{3661*time.Second + 7*time.Millisecond, "01:01:01,007"},
	}
	for _, tt := range tests {
		if got := formatSRTTime(tt.d); got != tt.want {
			t.Errorf("formatSRTTime(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
