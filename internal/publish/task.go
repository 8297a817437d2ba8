package publish

import (
	"bytes"
	"context"
	"fmt"
	"slices"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"
)

// Content encodings.
const (
	EncodingGzip   = "gzip"
	EncodingBrotli = "br"
)

// Task is one upload derived from a publishable asset.
type Task struct {
	StorageKey string
	Content    []byte
	MimeType   string
	// Origin is the storage key of the asset the task was derived from.
	Origin   string
	Encoding string
	Suffix   string
}

// Tasks derives the uploads of a: one raw task, or a gzip task on the raw
// key followed by a brotli task on key+".br" when its MIME type is listed.
// Both variants are compressed concurrently.
func Tasks(ctx context.Context, a PublishableAsset, compressTypes []string) ([]Task, error) {
	if !slices.Contains(compressTypes, a.MimeType) {
		return []Task{{StorageKey: a.StorageKey, Content: a.Content, MimeType: a.MimeType, Origin: a.StorageKey}}, nil
	}

	var gz, br []byte
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		gz, err = gzipBytes(a.Content)
		return err
	})
	g.Go(func() error {
		var err error
		br, err = brotliBytes(a.Content)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return []Task{
		{StorageKey: a.StorageKey, Content: gz, MimeType: a.MimeType, Origin: a.StorageKey, Encoding: EncodingGzip},
		{StorageKey: a.StorageKey + ".br", Content: br, MimeType: a.MimeType, Origin: a.StorageKey, Encoding: EncodingBrotli, Suffix: ".br"},
	}, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return buf.Bytes(), nil
}

func brotliBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.BestCompression)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("brotli: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("brotli: %w", err)
	}
	return buf.Bytes(), nil
}
