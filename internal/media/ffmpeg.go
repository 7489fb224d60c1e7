package media

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// FFmpeg wraps the ffmpeg binary for the operations the pipeline needs.
type FFmpeg struct {
	binary         string
	runner         Runner
	frameTimeout   time.Duration
	extractTimeout time.Duration
}

// NewFFmpeg creates an ffmpeg wrapper.
// frameTimeout bounds a frame grab; extractTimeout bounds each window extraction or transcode.
func NewFFmpeg(binary string, frameTimeout, extractTimeout time.Duration) *FFmpeg {
	return NewFFmpegWithRunner(binary, frameTimeout, extractTimeout, ExecRunner{})
}

// NewFFmpegWithRunner is NewFFmpeg with an injected process runner.
func NewFFmpegWithRunner(binary string, frameTimeout, extractTimeout time.Duration, runner Runner) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{
		binary:         binary,
		runner:         runner,
		frameTimeout:   frameTimeout,
		extractTimeout: extractTimeout,
	}
}

// GrabFrame decodes a single frame at offset and returns it PNG-encoded.
// An empty result with a nil error means no frame could be decoded at that offset.
func (f *FFmpeg) GrabFrame(ctx context.Context, input string, offset time.Duration) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, f.frameTimeout)
	defer cancel()

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-analyzeduration", "1000000",
		"-probesize", "1000000",
		"-ss", formatSeconds(offset.Seconds()),
		"-i", input,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"pipe:1",
	}
	res, err := f.runner.Run(ctx, f.binary, args...)
	if err != nil {
		return nil, fmt.Errorf("grab frame: %w", err)
	}
	return res.Stdout, nil
}

// ExtractWindow copies [start, start+length) seconds of input into output without re-encoding.
func (f *FFmpeg) ExtractWindow(ctx context.Context, input string, start, length float64, output string) error {
	ctx, cancel := withTimeout(ctx, f.extractTimeout)
	defer cancel()

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", input,
		"-ss", formatSeconds(start),
		"-t", formatSeconds(length),
		"-c:v", "copy",
		"-c:a", "copy",
		output,
	}
	if _, err := f.runner.Run(ctx, f.binary, args...); err != nil {
		return fmt.Errorf("extract window at %.2fs: %w", start, err)
	}
	return nil
}

// TranscodeAudio converts input to a 44.1kHz stereo mp3.
func (f *FFmpeg) TranscodeAudio(ctx context.Context, input, output string) error {
	ctx, cancel := withTimeout(ctx, f.extractTimeout)
	defer cancel()

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", input,
		"-vn",
		"-acodec", "libmp3lame",
		"-ar", "44100",
		"-ac", "2",
		"-f", "mp3",
		output,
	}
	if _, err := f.runner.Run(ctx, f.binary, args...); err != nil {
		return fmt.Errorf("transcode audio: %w", err)
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
