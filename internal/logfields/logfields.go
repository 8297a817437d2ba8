package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyService    = "service"
	KeyTag        = "tag"
	KeyBundle     = "bundle"
	KeyAssetKey   = "asset_key"
	KeyEncoding   = "encoding"
	KeyStage      = "stage"
	KeyDurationMS = "duration_ms"
	KeyCommand    = "command"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func Service(name string) slog.Attr   { return slog.String(KeyService, name) }
func Tag(tag string) slog.Attr        { return slog.String(KeyTag, tag) }
func Bundle(key string) slog.Attr     { return slog.String(KeyBundle, key) }
func AssetKey(key string) slog.Attr   { return slog.String(KeyAssetKey, key) }
func Encoding(enc string) slog.Attr   { return slog.String(KeyEncoding, enc) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Command(display string) slog.Attr {
	return slog.String(KeyCommand, display)
}
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
