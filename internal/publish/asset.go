// Package publish uploads bundled assets to the content store, compressing
// text types with gzip and brotli.
package publish

import (
	"mime"
	"path"
	"strings"

	"git.home.luguber.info/inful/assetbuilder/internal/assets"
)

// IndexKey is the asset key of the aggregate index page.
const IndexKey = "index.html"

// PublishableAsset is a record with its storage location attached.
type PublishableAsset struct {
	assets.Record
	StorageKey string
	URL        string
}

// PrepareOptions selects and addresses the records to publish.
type PrepareOptions struct {
	Environment string
	CDNURL      string
	TagFilter   string
}

// Skip is a record Prepare left out, with the reason.
type Skip struct {
	Key    string
	Reason string
}

// Skip reasons.
const (
	SkipError = "error record"
	SkipNoKey = "no asset key"
	SkipTag   = "tag filtered"
	SkipEmpty = "content empty"
	SkipHTML  = "html"
)

// Prepare selects the records to publish and attaches their storage keys
// and URLs. Error records, records without key, other tags, empty content
// and html are left out. It has no side effects.
func Prepare(records []assets.Record, opts PrepareOptions) ([]PublishableAsset, []Skip) {
	var (
		out     []PublishableAsset
		skipped []Skip
	)
	for _, r := range records {
		var reason string
		switch {
		case r.IsError():
			reason = SkipError
		case r.AssetKey == "":
			reason = SkipNoKey
		case opts.TagFilter != "" && r.Tag != opts.TagFilter:
			reason = SkipTag
		case len(r.Content) == 0:
			reason = SkipEmpty
		case r.Type == assets.TypeHTML:
			reason = SkipHTML
		}
		if reason != "" {
			skipped = append(skipped, Skip{Key: r.AssetKey, Reason: reason})
			continue
		}
		out = append(out, newPublishable(r, opts))
	}
	return out, skipped
}

// Index wraps the rendered index page as a publishable asset.
func Index(html []byte, opts PrepareOptions) PublishableAsset {
	return newPublishable(assets.Record{
		Type:         assets.TypeHTML,
		RelativePath: IndexKey,
		FileName:     IndexKey,
		Extension:    ".html",
		MimeType:     "text/html",
		Content:      html,
		Checksum:     assets.Checksum(html),
		AssetKey:     IndexKey,
		Exists:       true,
	}, opts)
}

func newPublishable(r assets.Record, opts PrepareOptions) PublishableAsset {
	if r.MimeType == "" {
		r.MimeType = mimeFallback(r.AssetKey)
	}
	key := StorageKey(opts.Environment, r.AssetKey)
	return PublishableAsset{Record: r, StorageKey: key, URL: URL(opts.CDNURL, key)}
}

// StorageKey returns {environment}/{assetKey}.
func StorageKey(environment, assetKey string) string {
	return environment + "/" + assetKey
}

// URL joins the CDN base and a storage key.
func URL(cdn, storageKey string) string {
	if cdn == "" {
		return storageKey
	}
	return strings.TrimRight(cdn, "/") + "/" + storageKey
}

func mimeFallback(key string) string {
	if t := mime.TypeByExtension(path.Ext(key)); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
		return t
	}
	return "application/octet-stream"
}
