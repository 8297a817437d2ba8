// Package bundle groups records by bundle key and produces the concatenated
// or minified script and stylesheet artifacts that get published.
package bundle

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"git.home.luguber.info/inful/assetbuilder/internal/assets"
	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/metrics"
)

const (
	minifiedJSPath  = "minified-js"
	sourceMapPath   = "js-source-map"
	minifiedCSSPath = "minified-css"
)

// BundleError is a bundle that could not be produced. Other bundles are
// unaffected.
type BundleError struct {
	Bundle string
	Tag    string
	Err    error
}

func (e BundleError) Error() string { return e.Err.Error() }
func (e BundleError) Unwrap() error { return e.Err }

// Result holds the records to publish and the failed bundles.
type Result struct {
	Assets       []assets.Record
	BundleErrors []BundleError
}

// Config wires an Engine.
type Config struct {
	Minifier Minifier
	// CSSMinify enables stylesheet minification outside concatenate-only mode.
	CSSMinify bool
	Metrics   metrics.Recorder
	Logger    *slog.Logger
}

// Engine bundles records.
type Engine struct {
	minifier  Minifier
	cssMinify bool
	metrics   metrics.Recorder
	logger    *slog.Logger
}

// New returns an Engine. A nil minifier uses esbuild with default options.
func New(cfg Config) *Engine {
	e := &Engine{
		minifier:  cfg.Minifier,
		cssMinify: cfg.CSSMinify,
		metrics:   metrics.OrNoop(cfg.Metrics),
		logger:    cfg.Logger,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.minifier == nil {
		e.minifier = &ESBuildMinifier{target: targets["es2017"], mangle: true}
	}
	return e
}

// Bundle replaces js and css records by one artifact per bundle key. Other
// records pass through first, in order, followed by the script artifacts and
// then the stylesheet artifacts, each in first-seen bundle order. The error
// joins every bundle error; the caller decides whether it is fatal.
func (e *Engine) Bundle(records []assets.Record, concatenateOnly bool) (*Result, error) {
	var js, css []assets.Record
	res := &Result{}
	for _, r := range records {
		switch r.Type {
		case assets.TypeJS:
			js = append(js, r)
		case assets.TypeCSS:
			css = append(css, r)
		default:
			res.Assets = append(res.Assets, r)
		}
	}

	for _, group := range groupByBundle(js) {
		e.bundleJS(res, group, concatenateOnly)
	}
	for _, group := range groupByBundle(css) {
		e.bundleCSS(res, group, concatenateOnly)
	}

	if len(res.BundleErrors) == 0 {
		return res, nil
	}
	errs := make([]error, len(res.BundleErrors))
	for i, be := range res.BundleErrors {
		errs[i] = be
	}
	return res, errors.Join(errs...)
}

type bundleGroup struct {
	key     string
	members []assets.Record
}

func groupByBundle(records []assets.Record) []bundleGroup {
	var groups []bundleGroup
	index := map[string]int{}
	for _, r := range records {
		i, ok := index[r.BundleKey]
		if !ok {
			i = len(groups)
			index[r.BundleKey] = i
			groups = append(groups, bundleGroup{key: r.BundleKey})
		}
		groups[i].members = append(groups[i].members, r)
	}
	return groups
}

func (e *Engine) bundleJS(res *Result, g bundleGroup, concatenateOnly bool) {
	first := g.members[0]
	minification := first.Minification

	if minification.AlreadyMinified || concatenateOnly {
		var code, sourceMap bytes.Buffer
		var sources []string
		for _, m := range g.members {
			if m.Extension == minification.SourceMapExtension {
				sourceMap.Write(m.Content)
				continue
			}
			code.Write(m.Content)
			sources = append(sources, m.RelativePath)
		}
		if !concatenateOnly {
			if len(sources) > 1 {
				err := foundationerrors.MinificationError(fmt.Sprintf("bundle %s is already minified but has %d script members", g.key, len(sources))).
					WithContext("bundle", g.key).
					Build()
				e.fail(res, g, "already_minified", err)
				res.Assets = append(res.Assets, artifact(first, assets.TypeJS, jsKey(first), minifiedJSPath, nil, sources))
				return
			}
			e.logger.Info(fmt.Sprintf("Adding already minified %s JS assets ...", g.key), logfields.Bundle(g.key))
		}
		if sourceMap.Len() > 0 {
			res.Assets = append(res.Assets, artifact(first, assets.TypeJS, mapKey(first), sourceMapPath, sourceMap.Bytes(), nil))
		}
		if code.Len() > 0 {
			res.Assets = append(res.Assets, artifact(first, assets.TypeJS, jsKey(first), minifiedJSPath, code.Bytes(), sources))
		}
		return
	}

	e.logger.Info(fmt.Sprintf("Compiling %d %s JS assets ...", len(g.members), g.key), logfields.Bundle(g.key))
	inputs := make([]Source, 0, len(g.members))
	sources := make([]string, 0, len(g.members))
	for _, m := range g.members {
		inputs = append(inputs, Source{Name: m.RelativePath, Content: m.Content})
		sources = append(sources, m.RelativePath)
	}
	code, sourceMap, err := e.minifier.MinifyJS(first.Tag+".js", inputs)
	if err != nil {
		e.fail(res, g, "minify", foundationerrors.MinificationError(fmt.Sprintf("There was an error minifying files in %s, error: %v", g.key, err)).
			WithCause(err).
			WithContext("bundle", g.key).
			Build())
		res.Assets = append(res.Assets, artifact(first, assets.TypeJS, jsKey(first), minifiedJSPath, nil, sources))
		return
	}
	if len(sourceMap) > 0 {
		res.Assets = append(res.Assets, artifact(first, assets.TypeJS, mapKey(first), sourceMapPath, sourceMap, nil))
	}
	if len(code) > 0 {
		res.Assets = append(res.Assets, artifact(first, assets.TypeJS, jsKey(first), minifiedJSPath, code, sources))
	}
}

func (e *Engine) bundleCSS(res *Result, g bundleGroup, concatenateOnly bool) {
	first := g.members[0]
	if !concatenateOnly {
		e.logger.Info(fmt.Sprintf("Compiling %d %s CSS assets ...", len(g.members), g.key), logfields.Bundle(g.key))
	}

	var buf bytes.Buffer
	sources := make([]string, 0, len(g.members))
	for _, m := range g.members {
		buf.Write(m.Content)
		sources = append(sources, m.RelativePath)
	}
	content := buf.Bytes()

	if !concatenateOnly && e.cssMinify && len(content) > 0 {
		minified, err := e.minifier.MinifyCSS(first.Tag+".css", content)
		if err != nil {
			e.fail(res, g, "minify", foundationerrors.MinificationError(fmt.Sprintf("There was an error minifying css in %s, error: %v", g.key, err)).
				WithCause(err).
				WithContext("bundle", g.key).
				Build())
			return
		}
		content = minified
	}

	if len(content) == 0 {
		e.fail(res, g, "empty_css", foundationerrors.MinificationError("No css for tag "+first.Tag).
			WithContext("bundle", g.key).
			Build())
		return
	}
	key := assets.CreateKey(first.ServiceName, first.BuildNumber, first.Tag, "", "css", "css")
	res.Assets = append(res.Assets, artifact(first, assets.TypeCSS, key, minifiedCSSPath, content, sources))
}

func (e *Engine) fail(res *Result, g bundleGroup, kind string, err error) {
	e.metrics.IncBundleError(kind)
	e.logger.Error("Bundle failed", logfields.Bundle(g.key), logfields.Error(err))
	res.BundleErrors = append(res.BundleErrors, BundleError{Bundle: g.key, Tag: g.members[0].Tag, Err: err})
}

func jsKey(r assets.Record) string {
	return assets.CreateKey(r.ServiceName, r.BuildNumber, r.Tag, "", "js", "js")
}

func mapKey(r assets.Record) string {
	return assets.CreateKey(r.ServiceName, r.BuildNumber, r.Tag, "js", "js", "map")
}

// artifact derives a bundle output record from the first member of a bundle.
func artifact(first assets.Record, typ assets.Type, key, relPath string, content []byte, sources []string) assets.Record {
	return assets.Record{
		ServiceName:  first.ServiceName,
		BuildNumber:  first.BuildNumber,
		Tag:          first.Tag,
		Type:         typ,
		RelativePath: relPath,
		FileName:     path.Base(key),
		Extension:    path.Ext(key),
		MimeType:     assets.MimeType(key),
		Content:      bytes.Clone(content),
		Checksum:     assets.Checksum(content),
		BundleKey:    first.BundleKey,
		AssetKey:     key,
		Exists:       true,
		SourceFiles:  sources,
		Minification: first.Minification,
	}
}
