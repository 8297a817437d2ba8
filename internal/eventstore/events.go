package eventstore

import (
	"encoding/json"
	"time"
)

// Event types written by a pipeline run.
const (
	TypeRunStarted     = "RunStarted"
	TypeServiceBuilt   = "ServiceBuilt"
	TypeServiceSkipped = "ServiceSkipped"
	TypeServiceFailed  = "ServiceFailed"
	TypeBundleFailed   = "BundleFailed"
	TypeAssetPublished = "AssetPublished"
	TypeRunCompleted   = "RunCompleted"
)

// RunStarted is recorded once at the start of a run.
type RunStarted struct {
	Environment string   `json:"environment"`
	BuildNumber string   `json:"build_number"`
	Tag         string   `json:"tag,omitempty"`
	Services    []string `json:"services"`
	Command     string   `json:"command"`
}

// ServiceBuilt is recorded when a build command finished successfully.
type ServiceBuilt struct {
	Service    string          `json:"service"`
	State      string          `json:"state"`
	DurationMS int64           `json:"duration_ms"`
	Command    json.RawMessage `json:"command,omitempty"`
}

// ServiceSkipped is recorded when no build was necessary.
type ServiceSkipped struct {
	Service string `json:"service"`
	Reason  string `json:"reason"`
}

// ServiceFailed is recorded when a build command failed or timed out.
type ServiceFailed struct {
	Service    string          `json:"service"`
	State      string          `json:"state"`
	ExitCode   int             `json:"exit_code"`
	Error      string          `json:"error"`
	DurationMS int64           `json:"duration_ms"`
	Command    json.RawMessage `json:"command,omitempty"`
}

// BundleFailed is recorded for every bundle that could not be produced.
type BundleFailed struct {
	Bundle string `json:"bundle"`
	Error  string `json:"error"`
}

// AssetPublished is recorded for every uploaded asset.
type AssetPublished struct {
	Path       string   `json:"path"`
	URL        string   `json:"url,omitempty"`
	Encodings  []string `json:"encodings,omitempty"`
	Size       int      `json:"size"`
	DurationMS int64    `json:"duration_ms"`
}

// RunCompleted closes a run.
type RunCompleted struct {
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	Published  int    `json:"published"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Decode unmarshals the payload of e into v.
func Decode(e Event, v any) error {
	return json.Unmarshal(e.Payload(), v)
}

func durationMS(d time.Duration) int64 { return d.Milliseconds() }
