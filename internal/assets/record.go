// Package assets discovers the files a service declares and turns them into
// immutable records.
package assets

import (
	"crypto/sha1" //nolint:gosec // checksum is a cache-busting key, not a security boundary
	"encoding/hex"
	"path"
)

// Type is the asset type a record was declared under.
type Type string

const (
	TypeJS      Type = "js"
	TypeCSS     Type = "css"
	TypeHTML    Type = "html"
	TypeLibrary Type = "library"
	TypeAsset   Type = "asset"
	TypeError   Type = "error"
)

// Minification carries the group settings the bundler needs.
type Minification struct {
	AlreadyMinified    bool
	SourceMapExtension string
}

// Record is one discovered file, derived artifact or missing-pattern marker.
// Records are values and are not modified after construction.
type Record struct {
	ServiceName  string
	BuildNumber  string
	Tag          string
	Type         Type
	RelativePath string
	AbsolutePath string
	FileName     string
	Extension    string
	MimeType     string
	Content      []byte
	Checksum     string
	BundleKey    string
	AssetKey     string
	Exists       bool
	// Message is set on error records.
	Message string
	// SourceFiles lists the inputs of a derived artifact.
	SourceFiles  []string
	Minification Minification
}

// IsError reports whether r marks a pattern that matched nothing.
func (r Record) IsError() bool { return r.Type == TypeError }

// Checksum returns the sha1 hex digest of content.
func Checksum(content []byte) string {
	sum := sha1.Sum(content) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])
}

// BundleKey groups records of one service and tag.
func BundleKey(service, tag string) string {
	return service + "/" + tag
}

// CreateKey builds the storage key of a derived artifact:
// service/build/dir/tag[.infix].ext, skipping empty segments.
func CreateKey(service, build, tag, infix, dir, ext string) string {
	name := tag
	if infix != "" {
		name += "." + infix
	}
	if ext != "" {
		name += "." + ext
	}
	parts := make([]string, 0, 4)
	for _, p := range []string{service, build, dir, name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return path.Join(parts...)
}

// NeedsBuild reports whether any record is missing. Error records count as
// missing; an empty set needs nothing.
func NeedsBuild(records []Record) bool {
	for _, r := range records {
		if r.IsError() || !r.Exists {
			return true
		}
	}
	return false
}
