package config

import "strings"

// StorageType selects the content store backend.
type StorageType string

const (
	StorageNone StorageType = "none"
	StorageHTTP StorageType = "http"
	StorageFS   StorageType = "fs"
)

// NormalizeStorageType maps user input to a StorageType; unknown values yield "".
func NormalizeStorageType(raw string) StorageType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(StorageNone):
		return StorageNone
	case string(StorageHTTP), "https":
		return StorageHTTP
	case string(StorageFS), "filesystem", "local":
		return StorageFS
	default:
		return ""
	}
}
