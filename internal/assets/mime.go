package assets

import (
	"mime"
	"path"
	"strings"
)

// Node-style MIME names for the types that decide compression; the stdlib
// table maps .js to text/javascript.
var mimeOverrides = map[string]string{
	".js":    "application/javascript",
	".mjs":   "application/javascript",
	".map":   "application/json",
	".json":  "application/json",
	".css":   "text/css",
	".html":  "text/html",
	".htm":   "text/html",
	".txt":   "text/plain",
	".xml":   "application/xml",
	".svg":   "image/svg+xml",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".ico":   "image/x-icon",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".eot":   "application/vnd.ms-fontobject",
	".swf":   "application/x-shockwave-flash",
	".pdf":   "application/pdf",
}

// MimeType returns the bare media type for name, or application/octet-stream.
func MimeType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if t, ok := mimeOverrides[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if media, _, err := mime.ParseMediaType(t); err == nil {
			return media
		}
		return t
	}
	return "application/octet-stream"
}
