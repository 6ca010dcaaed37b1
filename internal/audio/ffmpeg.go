package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// FFmpeg runs the ffmpeg binary as a stdin to stdout filter
type FFmpeg struct {
	Path    string
	Timeout time.Duration
}

// Run pipes input through ffmpeg. inputArgs describe the stdin stream and
// outputArgs the stdout stream.
func (f *FFmpeg) Run(ctx context.Context, input []byte, inputArgs []string, outputArgs ...string) ([]byte, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, inputArgs...)
	args = append(args, "-i", "pipe:0")
	args = append(args, outputArgs...)
	args = append(args, "pipe:1")

	cmd := exec.CommandContext(ctx, f.Path, args...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout bytes.Buffer
	var stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg aborted: %w", ctx.Err())
		}
		return nil, fmt.Errorf("ffmpeg failed: %w\n%s", err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no output\n%s", stderr.String())
	}
	return stdout.Bytes(), nil
}

// Available reports whether the ffmpeg binary can be found
func (f *FFmpeg) Available() error {
	if _, err := exec.LookPath(f.Path); err != nil {
		return fmt.Errorf("ffmpeg not found at %q: %w", f.Path, err)
	}
	return nil
}
