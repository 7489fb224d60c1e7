package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"path"
	"strings"
	"time"

	"github.com/timmy/vidflow/internal/storage"
	"golang.org/x/image/draw"
)

// Frame offsets tried in order; the second is the retry when the first yields nothing.
var thumbnailOffsets = []time.Duration{time.Millisecond, 100 * time.Millisecond}

// ThumbnailKey derives the thumbnail object key from the video key.
func ThumbnailKey(videoKey string) string {
	return strings.TrimSuffix(videoKey, path.Ext(videoKey)) + "-thumb.jpg"
}

// FitWithin scales (w, h) down to fit inside (maxW, maxH), preserving aspect ratio.
// Images that already fit are returned unchanged.
func FitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}
	if w <= maxW && h <= maxH {
		return w, h
	}
	scale := float64(maxW) / float64(w)
	if hs := float64(maxH) / float64(h); hs < scale {
		scale = hs
	}
	nw := int(float64(w)*scale + 0.5)
	nh := int(float64(h)*scale + 0.5)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}

// makeThumbnail never fails: any error is logged and the default thumbnail reference returned.
func (p *VideoPipeline) makeThumbnail(ctx context.Context, input, videoKey string) string {
	ref, err := p.buildThumbnail(ctx, input, videoKey)
	if err != nil {
		p.log(ctx).WithError(err).Warn("Thumbnail failed, using default")
		return p.cfg.DefaultThumbnailURL
	}
	return ref
}

func (p *VideoPipeline) buildThumbnail(ctx context.Context, input, videoKey string) (string, error) {
	var frame []byte
	for _, offset := range thumbnailOffsets {
		data, err := p.media.GrabFrame(ctx, input, offset)
		if err != nil {
			return "", err
		}
		if len(data) > 0 {
			frame = data
			break
		}
		p.log(ctx).Debugf("No frame at %s, retrying", offset)
	}
	if len(frame) == 0 {
		return "", errors.New("no decodable frame near start of video")
	}

	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return "", fmt.Errorf("decode frame: %w", err)
	}

	encoded, err := encodeThumbnail(img, p.cfg.ThumbnailMaxWidth, p.cfg.ThumbnailMaxHeight, p.cfg.ThumbnailQuality)
	if err != nil {
		return "", err
	}

	key := ThumbnailKey(videoKey)
	if err := p.store.PutObject(ctx, key, bytes.NewReader(encoded), int64(len(encoded)), "image/jpeg", storage.ACLPublicRead); err != nil {
		return "", fmt.Errorf("upload thumbnail: %w", err)
	}
	return p.store.GetURL(key), nil
}

func encodeThumbnail(src image.Image, maxW, maxH, quality int) ([]byte, error) {
	b := src.Bounds()
	w, h := FitWithin(b.Dx(), b.Dy(), maxW, maxH)

	var out image.Image = src
	if w != b.Dx() || h != b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	if buf.Len() == 0 {
		return nil, errors.New("encoded thumbnail is empty")
	}
	return buf.Bytes(), nil
}
