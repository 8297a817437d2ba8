package publish

import "time"

// LogEntry is the telemetry of one published asset.
type LogEntry struct {
	MimeType  string
	Encodings []string
	FullPath  string
	FileSize  int
	Started   time.Time
	Duration  time.Duration
}

// AssetLog accumulates upload telemetry keyed by storage key, in insertion
// order. The zero value is not usable; call NewAssetLog.
type AssetLog struct {
	entries map[string]*LogEntry
	order   []string
}

// NewAssetLog returns an empty log.
func NewAssetLog() *AssetLog {
	return &AssetLog{entries: make(map[string]*LogEntry)}
}

func (l *AssetLog) entry(key, mimeType string) *LogEntry {
	e, ok := l.entries[key]
	if !ok {
		e = &LogEntry{MimeType: mimeType}
		l.entries[key] = e
		l.order = append(l.order, key)
	}
	return e
}

// Get returns a copy of the entry for key.
func (l *AssetLog) Get(key string) (LogEntry, bool) {
	e, ok := l.entries[key]
	if !ok {
		return LogEntry{}, false
	}
	c := *e
	c.Encodings = append([]string(nil), e.Encodings...)
	return c, true
}

// Keys returns the storage keys in insertion order.
func (l *AssetLog) Keys() []string {
	return append([]string(nil), l.order...)
}

// Len returns the number of entries.
func (l *AssetLog) Len() int { return len(l.order) }

// Merge copies every entry of other into l, other winning on conflicts,
// and returns l.
func (l *AssetLog) Merge(other *AssetLog) *AssetLog {
	if other == nil {
		return l
	}
	for _, key := range other.order {
		src := other.entries[key]
		dst := l.entry(key, src.MimeType)
		*dst = *src
		dst.Encodings = append([]string(nil), src.Encodings...)
	}
	return l
}
