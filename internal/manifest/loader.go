package manifest

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
)

// FileNames are the manifest names looked up in a service directory, in order.
var FileNames = []string{"asset-service.yaml", "asset-service.yml", "asset-service.json"}

// ErrNoManifest is returned by Load when a directory has no manifest.
var ErrNoManifest = errors.New("no asset-service manifest")

// Loader reads service manifests from directories under Root.
type Loader struct {
	Root string
}

// NewLoader returns a loader rooted at the services directory.
func NewLoader(root string) *Loader {
	return &Loader{Root: root}
}

// Load decodes the manifest of the service in dir (relative to Root unless absolute).
func (l *Loader) Load(dir string) (*Service, error) {
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(l.Root, dir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	for _, name := range FileNames {
		path := filepath.Join(abs, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, foundationerrors.WrapError(err, foundationerrors.CategoryFileSystem, "failed to read service manifest").
				WithContext("path", path).
				Build()
		}
		svc, err := Parse(data)
		if err != nil {
			return nil, foundationerrors.WrapError(err, foundationerrors.CategoryValidation, "invalid service manifest").
				WithContext("path", path).
				Build()
		}
		svc.Dir = abs
		svc.Repo = filepath.Base(abs)
		svc.Name = svc.Meta.Name
		if svc.Name == "" {
			svc.Name = svc.Repo
		}
		return svc, nil
	}
	return nil, fmt.Errorf("%s: %w", abs, ErrNoManifest)
}

// Parse decodes manifest bytes. JSON manifests are valid YAML.
func Parse(data []byte) (*Service, error) {
	var svc Service
	if err := yaml.Unmarshal(data, &svc); err != nil {
		return nil, err
	}
	return &svc, nil
}

// Discover lists the service directories under Root that carry a manifest,
// sorted by name. When names is non-empty only those directories are loaded.
func (l *Loader) Discover(names []string) ([]*Service, error) {
	if len(names) == 0 {
		entries, err := os.ReadDir(l.Root)
		if err != nil {
			return nil, foundationerrors.WrapError(err, foundationerrors.CategoryFileSystem, "failed to read services directory").
				WithContext("path", l.Root).
				Build()
		}
		for _, e := range entries {
			if e.IsDir() {
				names = append(names, e.Name())
			}
		}
	}
	sort.Strings(names)

	services := make([]*Service, 0, len(names))
	for _, name := range names {
		svc, err := l.Load(name)
		if errors.Is(err, ErrNoManifest) {
			slog.Debug("Skipping directory without manifest", logfields.Service(name))
			continue
		}
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, nil
}

// Selection narrows the discovered services to those with assets.
type Selection struct {
	RepoTag   string
	RepoRegex *regexp.Regexp
}

// Select keeps services that declare assets, carry RepoTag (when set) and
// whose name matches RepoRegex (when set). Order is preserved.
func (s Selection) Select(services []*Service) []*Service {
	out := make([]*Service, 0, len(services))
	for _, svc := range services {
		if !svc.HasAssets() {
			continue
		}
		if s.RepoTag != "" && !svc.HasTag(s.RepoTag) {
			continue
		}
		if s.RepoRegex != nil && !s.RepoRegex.MatchString(svc.Name) {
			continue
		}
		out = append(out, svc)
	}
	return out
}
