package service

import (
	"context"
	"path"
	"strconv"
	"strings"

	"github.com/timmy/vidflow/internal/logger"
)

// defaultBitrateMbps is used when neither content type nor extension is recognised.
const defaultBitrateMbps = 2.5

// Checked in order; the first substring match wins.
var contentTypeBitrates = []struct {
	token string
	mbps  float64
}{
	{"webm", 2.0},
	{"mp4", 3.0},
	{"avi", 4.0},
	{"mov", 3.5},
	{"quicktime", 3.5},
	{"mkv", 2.5},
	{"matroska", 2.5},
}

var extensionBitrates = map[string]float64{
	".webm": 2.0,
	".mp4":  3.0,
	".avi":  4.0,
	".mov":  3.5,
	".mkv":  2.5,
	".flv":  1.5,
	".wmv":  2.0,
	".m4v":  3.0,
}

// EstimateBitrate returns the expected bitrate in Mbps, preferring content type over file extension.
func EstimateBitrate(key, contentType string) float64 {
	ct := strings.ToLower(contentType)
	if ct != "" {
		for _, b := range contentTypeBitrates {
			if strings.Contains(ct, b.token) {
				return b.mbps
			}
		}
	}
	if mbps, ok := extensionBitrates[strings.ToLower(path.Ext(key))]; ok {
		return mbps
	}
	return defaultBitrateMbps
}

// EstimateDuration converts a file size into seconds at the given bitrate.
func EstimateDuration(sizeBytes int64, bitrateMbps float64) float64 {
	if sizeBytes <= 0 || bitrateMbps <= 0 {
		return 0
	}
	return float64(sizeBytes) * 8 / (bitrateMbps * 1e6)
}

// IsLongVideo reports whether duration exceeds limit seconds. The limit itself is short.
func IsLongVideo(duration, limit float64) bool {
	return duration > limit
}

// probeDuration reads object metadata and returns the media duration in seconds.
// An explicit duration tag wins over the size-based estimate.
func (p *VideoPipeline) probeDuration(ctx context.Context, key string) (float64, error) {
	meta, err := p.store.HeadMetadata(ctx, key)
	if err != nil {
		return 0, wrapStage(ErrExternalService, "duration probe", err)
	}

	if raw, ok := meta.Tags["duration"]; ok {
		if d, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil && d >= 0 {
			return d, nil
		}
		p.log(ctx).WithField("duration_tag", raw).Warn("Unparseable duration tag, estimating from size")
	}

	bitrate := EstimateBitrate(key, meta.ContentType)
	d := EstimateDuration(meta.Size, bitrate)
	p.log(ctx).WithFields(logger.Fields{
		"size_bytes":   meta.Size,
		"content_type": meta.ContentType,
		"bitrate_mbps": bitrate,
		"duration_s":   d,
	}).Info("Estimated duration from object size")
	return d, nil
}
