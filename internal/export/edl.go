package export

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/heimdex/heimdex-studio/internal/analysis"
	"github.com/heimdex/heimdex-studio/internal/upload"
)

const maxTitleLen = 70

var (
	ErrVideoFailed = errors.New("video analysis failed")
	ErrNoFrames    = errors.New("video has no analyzed frames")
)

// EventsFromResult turns each analyzed frame into an event covering the
// partition it was sampled from. Frames sit at partition midpoints, so the
// partition width is twice the first frame's offset.
func EventsFromResult(res analysis.SanitizedResult) ([]Event, error) {
	if res.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrVideoFailed, res.Error)
	}
	if len(res.Frames) == 0 {
		return nil, ErrNoFrames
	}

	widthMs := int(math.Round(res.Frames[0].Timestamp * 2000))
	if widthMs <= 0 {
		widthMs = 1000
	}

	name := filepath.Base(res.VideoPath)
	events := make([]Event, len(res.Frames))
	for i, f := range res.Frames {
		events[i] = Event{
			Name:      fmt.Sprintf("%s #%d", name, f.FrameNumber),
			MediaPath: res.VideoPath,
			StartMs:   f.FrameNumber * widthMs,
			EndMs:     (f.FrameNumber + 1) * widthMs,
			Comment:   oneLine(f.Description),
		}
	}
	return events, nil
}

// GenerateResultEDL renders a single video's result with its configured frame
// rate.
func GenerateResultEDL(res analysis.SanitizedResult) (string, error) {
	events, err := EventsFromResult(res)
	if err != nil {
		return "", err
	}
	return GenerateEDL(events, Title(res), float64(res.Config.FrameRate)), nil
}

// Title derives an EDL title from the video's file name.
func Title(res analysis.SanitizedResult) string {
	base := strings.TrimSuffix(filepath.Base(res.VideoPath), filepath.Ext(res.VideoPath))
	title := upload.SanitizeName(base, maxTitleLen)
	if title == "" {
		return "Untitled"
	}
	return title
}

// Filename is the download name for a result's EDL.
func Filename(res analysis.SanitizedResult) string {
	return Title(res) + ".edl"
}

func GenerateEDL(events []Event, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	recordOffsetMs := 0
	for i, ev := range events {
		durationMs := ev.EndMs - ev.StartMs
		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", "V",
				msToTimecode(ev.StartMs, fps), msToTimecode(ev.EndMs, fps),
				msToTimecode(recordOffsetMs, fps), msToTimecode(recordOffsetMs+durationMs, fps)),
			fmt.Sprintf("* FROM CLIP NAME:  %s", ev.Name),
			fmt.Sprintf("* MEDIA PATH:  %s", ev.MediaPath),
		)
		if ev.Comment != "" {
			lines = append(lines, fmt.Sprintf("* COMMENT:  %s", ev.Comment))
		}

		recordOffsetMs += durationMs
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func msToTimecode(ms int, fps int) string {
	totalFrames := int(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}

// oneLine collapses whitespace runs so a description fits a comment line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
