package emulator

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

const snapshotTimeout = 15 * time.Second

// SnapshotCapturer produces one JPEG frame from an RTSP stream.
type SnapshotCapturer interface {
	Capture(ctx context.Context, rtspURL string) ([]byte, error)
}

// FFmpegCapturer shells out to ffmpeg and reads the frame from its
// stdout. No temp files, so concurrent captures cannot collide.
type FFmpegCapturer struct {
	log zerolog.Logger
}

func NewFFmpegCapturer(log zerolog.Logger) *FFmpegCapturer {
	return &FFmpegCapturer{log: log.With().Str("component", "snapshot").Logger()}
}

func (f *FFmpegCapturer) Capture(ctx context.Context, rtspURL string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-rtsp_transport", "tcp",
		"-i", rtspURL,
		"-frames:v", "1",
		"-q:v", "2",
		"-f", "image2",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Annotatef(err, "ffmpeg snapshot capture failed: %s",
			lastLine(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, errors.New("ffmpeg produced an empty image")
	}
	f.log.Debug().Int("bytes", stdout.Len()).Msg("snapshot captured")
	return stdout.Bytes(), nil
}

// lastLine keeps error annotations readable; ffmpeg writes its banner
// and progress to stderr before the actual failure reason.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
