package bundle

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"git.home.luguber.info/inful/assetbuilder/internal/config"
)

// Source is one ordered input of a script bundle.
type Source struct {
	Name    string
	Content []byte
}

// Minifier compresses bundle content.
type Minifier interface {
	// MinifyJS minifies the ordered sources as one script and returns the code
	// and an external source map.
	MinifyJS(name string, sources []Source) (code, sourceMap []byte, err error)
	MinifyCSS(name string, css []byte) ([]byte, error)
}

// ESBuildMinifier minifies with esbuild's transform API.
type ESBuildMinifier struct {
	target    api.Target
	keepNames bool
	mangle    bool
}

var targets = map[string]api.Target{
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

// NewESBuildMinifier builds a minifier from the js options. Unknown targets
// fall back to es2017.
func NewESBuildMinifier(cfg config.JSConfig) *ESBuildMinifier {
	target, ok := targets[strings.ToLower(cfg.Target)]
	if !ok {
		target = api.ES2017
	}
	return &ESBuildMinifier{target: target, keepNames: cfg.KeepNames, mangle: !cfg.MangleDisabled}
}

// MinifyJS implements Minifier. The map has a single source, the joined
// text under name.
func (m *ESBuildMinifier) MinifyJS(name string, sources []Source) ([]byte, []byte, error) {
	var buf bytes.Buffer
	for i, s := range sources {
		if i > 0 {
			// Keeps one file's trailing expression from joining the next.
			buf.WriteString(";\n")
		}
		buf.Write(s.Content)
	}

	result := api.Transform(buf.String(), api.TransformOptions{
		Loader:            api.LoaderJS,
		Target:            m.target,
		MinifyWhitespace:  true,
		MinifySyntax:      true,
		MinifyIdentifiers: m.mangle,
		KeepNames:         m.keepNames,
		Sourcemap:         api.SourceMapExternal,
		SourcesContent:    api.SourcesContentInclude,
		Sourcefile:        name,
		LogLevel:          api.LogLevelSilent,
	})
	if err := messagesError(result.Errors); err != nil {
		return nil, nil, err
	}
	return result.Code, result.Map, nil
}

// MinifyCSS implements Minifier.
func (m *ESBuildMinifier) MinifyCSS(name string, css []byte) ([]byte, error) {
	result := api.Transform(string(css), api.TransformOptions{
		Loader:           api.LoaderCSS,
		MinifyWhitespace: true,
		MinifySyntax:     true,
		Sourcefile:       name,
		LogLevel:         api.LogLevelSilent,
	})
	if err := messagesError(result.Errors); err != nil {
		return nil, err
	}
	return result.Code, nil
}

func messagesError(msgs []api.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	errs := make([]error, 0, len(msgs))
	for _, msg := range msgs {
		if loc := msg.Location; loc != nil {
			errs = append(errs, fmt.Errorf("%s:%d:%d: %s", loc.File, loc.Line, loc.Column, msg.Text))
			continue
		}
		errs = append(errs, errors.New(msg.Text))
	}
	return errors.Join(errs...)
}
