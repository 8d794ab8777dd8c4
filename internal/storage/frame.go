package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"strings"
	"time"

	"mediagen/internal/domain"
)

// frameTimeout bounds one ffmpeg frame extraction.
const frameTimeout = 20 * time.Second

var errNoFFmpeg = errors.New("storage: ffmpeg not found in PATH")

// VideoThumbnail derives the thumbnail of a video from its first frame.
// GIFs are decoded in process; containers go through ffmpeg when the binary
// is installed. The upstream poster is used when no frame can be extracted.
func VideoThumbnail(ctx context.Context, data []byte, mime string, poster []byte) ([]byte, error) {
	var frameErr error
	if strings.HasPrefix(strings.ToLower(mime), "image/gif") {
		thumb, err := DeriveThumbnail(data, domain.KindVideo, mime)
		if err == nil {
			return thumb, nil
		}
		frameErr = err
	} else {
		frame, err := FirstFrame(ctx, data)
		if err == nil {
			return encodeThumbnail(frame)
		}
		frameErr = err
	}
	if len(poster) > 0 {
		return DeriveThumbnail(poster, domain.KindImage, "")
	}
	if errors.Is(frameErr, errNoFFmpeg) {
		return nil, ErrNoThumbnail
	}
	return nil, errors.Join(ErrNoThumbnail, frameErr)
}

// FirstFrame extracts frame 0 of a video with ffmpeg. The clip is spooled
// to a temporary file because mp4 files with a trailing moov atom cannot
// be demuxed from a pipe.
func FirstFrame(ctx context.Context, data []byte) (image.Image, error) {
	bin, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, errNoFFmpeg
	}
	if len(data) == 0 {
		return nil, errors.New("storage: empty video")
	}

	src, err := os.CreateTemp("", "mediagen-frame-*")
	if err != nil {
		return nil, fmt.Errorf("storage: spool video: %w", err)
	}
	defer os.Remove(src.Name())
	if _, err := src.Write(data); err != nil {
		src.Close()
		return nil, fmt.Errorf("storage: spool video: %w", err)
	}
	if err := src.Close(); err != nil {
		return nil, fmt.Errorf("storage: spool video: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, frameTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, bin,
		"-hide_banner", "-loglevel", "error",
		"-i", src.Name(),
		"-frames:v", "1",
		"-f", "image2", "-c:v", "png",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("storage: ffmpeg first frame: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	img, _, err := image.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("storage: decode first frame: %w", err)
	}
	return img, nil
}
