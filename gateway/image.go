package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"legalia-backend/storage"
)

// maxImageBytes caps how much of an image is read into memory.
const maxImageBytes = 20 << 20

// imageFetcher reads image bytes from an http(s) URL or a storage path.
type imageFetcher struct {
	client *http.Client
	files  storage.Storage
}

// fetch returns the image bytes and the genai image format (jpeg, png, ...).
// Every failure is an *ImageFetchError.
func (f *imageFetcher) fetch(ctx context.Context, ref string) ([]byte, string, error) {
	data, err := f.read(ctx, ref)
	if err != nil {
		return nil, "", &ImageFetchError{Ref: ref, Err: err}
	}
	if len(data) == 0 {
		return nil, "", &ImageFetchError{Ref: ref, Err: errors.New("empty image")}
	}
	return data, imageFormat(ref), nil
}

func (f *imageFetcher) read(ctx context.Context, ref string) ([]byte, error) {
	if isURL(ref) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return nil, err
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	}

	if f.files == nil {
		return nil, errors.New("no storage configured for file references")
	}
	rc, err := f.files.Download(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxImageBytes))
}

func isURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// imageFormat maps the reference's extension to an image subtype, defaulting to jpeg.
func imageFormat(ref string) string {
	p := ref
	if u, err := url.Parse(ref); err == nil && isURL(ref) {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".png":
		return "png"
	case ".gif":
		return "gif"
	case ".webp":
		return "webp"
	default:
		return "jpeg"
	}
}
