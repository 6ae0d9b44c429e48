// Package avatar fetches a profile image and re-encodes it as an embeddable
// data URI so the result record carries no remote reference.
package avatar

import (
	"compress/flate"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"context"

	"github.com/andybalholm/brotli"
)

// Encoder downloads images and converts them to data URIs.
type Encoder struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

// NewEncoder creates an Encoder with the given size cap.
func NewEncoder(maxBytes int64, logger *slog.Logger) *Encoder {
	return &Encoder{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				// Decompression is handled explicitly (including brotli).
				DisableCompression: true,
			},
		},
		maxBytes: maxBytes,
		logger:   logger.With("component", "avatar"),
	}
}

// DataURI fetches rawURL and returns it re-encoded as a base64 data URI.
// Callers fall back to the raw URL on error rather than failing the run.
func (e *Encoder) DataURI(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch avatar %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch avatar %s: status %d", rawURL, resp.StatusCode)
	}

	reader, err := decompressReader(resp, resp.Body)
	if err != nil {
		return "", fmt.Errorf("decompress avatar: %w", err)
	}

	data, err := io.ReadAll(io.LimitReader(reader, e.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read avatar: %w", err)
	}
	if int64(len(data)) > e.maxBytes {
		return "", fmt.Errorf("avatar exceeds %d bytes", e.maxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	} else {
		contentType = http.DetectContentType(data)
	}

	e.logger.Debug("avatar encoded", "url", rawURL, "size", len(data), "content_type", contentType)
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// decompressReader wraps a reader with the appropriate decompressor.
// Handles gzip, deflate, and brotli (br) encodings.
func decompressReader(resp *http.Response, reader io.Reader) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}
