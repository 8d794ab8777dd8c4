package providers

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

var (
	ErrEmptyArtifact   = errors.New("artifact is empty")
	ErrUnknownEncoding = errors.New("artifact encoding not recognised")
)

// VerifyImage decodes the image header and returns its MIME type and
// dimensions.
func VerifyImage(data []byte) (string, Metadata, error) {
	if len(data) == 0 {
		return "", Metadata{}, ErrEmptyArtifact
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", Metadata{}, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", Metadata{}, fmt.Errorf("image has no pixels")
	}
	return "image/" + format, Metadata{Width: cfg.Width, Height: cfg.Height}, nil
}

// VerifyVideo sniffs the container format.
func VerifyVideo(data []byte) (string, error) {
	switch {
	case len(data) == 0:
		return "", ErrEmptyArtifact
	case len(data) >= 12 && string(data[4:8]) == "ftyp":
		return "video/mp4", nil
	case len(data) >= 4 && bytes.Equal(data[:4], []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return "video/webm", nil
	case bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif", nil
	}
	return "", ErrUnknownEncoding
}

// VerifyAudio sniffs the audio encoding. For WAV the duration is derived
// from the header; other encodings report zero.
func VerifyAudio(data []byte) (string, float64, error) {
	switch {
	case len(data) == 0:
		return "", 0, ErrEmptyArtifact
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return "audio/wav", wavDuration(data), nil
	case bytes.HasPrefix(data, []byte("ID3")):
		return "audio/mpeg", 0, nil
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "audio/mpeg", 0, nil
	case bytes.HasPrefix(data, []byte("OggS")):
		return "audio/ogg", 0, nil
	}
	return "", 0, ErrUnknownEncoding
}

// wavDuration reads the byte rate of the canonical 44 byte header.
func wavDuration(data []byte) float64 {
	if len(data) < 44 {
		return 0
	}
	byteRate := binary.LittleEndian.Uint32(data[28:32])
	if byteRate == 0 {
		return 0
	}
	return float64(len(data)-44) / float64(byteRate)
}
