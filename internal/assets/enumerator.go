package assets

import (
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/manifest"
)

const (
	libraryTag   = "vendor"
	libraryBuild = "library"
	siteTag      = "site"
	siteBuild    = "asset"
)

// EnumerateOptions controls one enumeration pass.
type EnumerateOptions struct {
	BuildNumber string
	// TagFilter keeps only records of this tag when set.
	TagFilter string
	// WarnMissing logs a warning for every pattern that matched nothing.
	WarnMissing bool
	// FileTypes whitelists the asset types expanded from assets and files groups.
	FileTypes []string
}

// Enumerator expands a service manifest into records.
type Enumerator struct {
	logger *slog.Logger
}

// NewEnumerator returns an enumerator logging to logger (slog.Default when nil).
func NewEnumerator(logger *slog.Logger) *Enumerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enumerator{logger: logger}
}

// Enumerate returns the records for svc: assets groups, files groups,
// libraries and site assets, in that order.
func (e *Enumerator) Enumerate(svc *manifest.Service, opts EnumerateOptions) []Record {
	w := &walker{enumerator: e, svc: svc, opts: opts, allowed: make(map[string]bool, len(opts.FileTypes))}
	for _, t := range opts.FileTypes {
		w.allowed[t] = true
	}

	if a := svc.Assets; a != nil {
		minification := toMinification(a.Minification)
		for _, group := range a.Types {
			if !w.allowed[group.Type] {
				continue
			}
			for _, tp := range group.Tags {
				for _, pattern := range tp.Patterns {
					w.expand(a.BasePath, pattern, tp.Tag, Type(group.Type), minification)
				}
			}
		}
	}

	for _, fg := range svc.Files {
		minification := toMinification(fg.Minification)
		for _, tp := range fg.Types {
			if !w.allowed[tp.Type] {
				continue
			}
			for _, pattern := range tp.Patterns {
				w.expand(fg.BasePath, pattern, fg.Tag, Type(tp.Type), minification)
			}
		}
	}

	for _, lib := range svc.Libraries {
		for _, match := range w.glob(lib.BasePath, lib.Glob) {
			w.add(lib.BasePath, match, path.Join("vendor", "library", match), libraryBuild, libraryTag, TypeLibrary, Minification{AlreadyMinified: true})
		}
	}

	for _, site := range svc.SiteAssets {
		for _, match := range w.glob(site.BasePath, site.Glob) {
			w.add(site.BasePath, match, path.Join("asset", match), siteBuild, siteTag, TypeAsset, Minification{AlreadyMinified: true})
		}
	}

	return w.records
}

type walker struct {
	enumerator *Enumerator
	svc        *manifest.Service
	opts       EnumerateOptions
	allowed    map[string]bool
	records    []Record
}

func (w *walker) expand(basePath, pattern, tag string, typ Type, minification Minification) {
	matches := w.glob(basePath, pattern)
	if len(matches) == 0 {
		w.addError(tag, path.Join(basePath, pattern)+": No matching files found.")
		return
	}
	for _, match := range matches {
		key := path.Join(w.svc.Name, w.opts.BuildNumber, match)
		w.add(basePath, match, key, w.opts.BuildNumber, tag, typ, minification)
	}
}

// glob matches files under <service dir>/<basePath>. A missing base path or a
// malformed pattern yields no matches.
func (w *walker) glob(basePath, pattern string) []string {
	root := filepath.Join(w.svc.Dir, filepath.FromSlash(basePath))
	if strings.HasPrefix(pattern, "./") {
		pattern = path.Clean(pattern)
	}
	matches, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		w.enumerator.logger.Debug("Glob failed",
			logfields.Service(w.svc.Name),
			slog.String("pattern", pattern),
			logfields.Error(err))
		return nil
	}
	sort.Strings(matches)
	return matches
}

func (w *walker) add(basePath, match, key, build, tag string, typ Type, minification Minification) {
	if w.opts.TagFilter != "" && tag != w.opts.TagFilter {
		return
	}
	abs := filepath.Join(w.svc.Dir, filepath.FromSlash(basePath), filepath.FromSlash(match))
	content, err := os.ReadFile(abs)
	exists := err == nil
	if err != nil {
		content = nil
		w.enumerator.logger.Warn("Asset could not be read",
			logfields.Service(w.svc.Name),
			logfields.AssetKey(key),
			slog.String("path", abs),
			logfields.Error(err))
	}
	w.records = append(w.records, Record{
		ServiceName:  w.svc.Name,
		BuildNumber:  build,
		Tag:          tag,
		Type:         typ,
		RelativePath: path.Join(basePath, match),
		AbsolutePath: abs,
		FileName:     path.Base(match),
		Extension:    path.Ext(match),
		MimeType:     MimeType(match),
		Content:      content,
		Checksum:     Checksum(content),
		BundleKey:    BundleKey(w.svc.Name, tag),
		AssetKey:     key,
		Exists:       exists,
		Minification: minification,
	})
}

func (w *walker) addError(tag, message string) {
	if w.opts.TagFilter != "" && tag != w.opts.TagFilter {
		return
	}
	if w.opts.WarnMissing {
		w.enumerator.logger.Warn(message, logfields.Service(w.svc.Name), logfields.Tag(tag))
	}
	w.records = append(w.records, Record{
		ServiceName:  w.svc.Name,
		Tag:          tag,
		Type:         TypeError,
		RelativePath: w.svc.Dir,
		AbsolutePath: w.svc.Dir,
		BundleKey:    BundleKey(w.svc.Name, tag),
		Message:      message,
		Checksum:     Checksum(nil),
	})
}

func toMinification(m manifest.Minification) Minification {
	ext := m.SourceMapExtension
	if ext == "" {
		ext = manifest.DefaultSourceMapExtension
	}
	return Minification{AlreadyMinified: m.AlreadyMinified, SourceMapExtension: ext}
}
