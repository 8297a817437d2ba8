// Package htmlindex renders the aggregate index page listing every
// published asset by service and bundle tag.
package htmlindex

import (
	"bytes"
	_ "embed"
	"html/template"
	"time"

	"github.com/dustin/go-humanize"

	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/publish"
)

//go:embed assetlist.html
var assetListHTML string

var assetList = template.Must(template.New("assetlist").Parse(assetListHTML))

// Renderer produces the index page from the final ordered assets.
type Renderer interface {
	Render(assets []publish.PublishableAsset) ([]byte, error)
}

// TemplateRenderer renders the built-in asset list template.
type TemplateRenderer struct {
	Environment string
	RunID       string
	// Now is used for the generated timestamp; time.Now when nil.
	Now func() time.Time
}

type pageData struct {
	Environment string
	RunID       string
	Generated   string
	Services    []serviceData
}

type serviceData struct {
	Name    string
	Bundles []bundleData
}

type bundleData struct {
	Tag    string
	Assets []assetData
}

type assetData struct {
	Key string
	// URL is built from the configured base URL, which may be file://.
	URL      template.URL
	MimeType string
	Size     string
}

// Render implements Renderer. Services and tags keep first-seen order.
func (r TemplateRenderer) Render(items []publish.PublishableAsset) ([]byte, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	data := pageData{
		Environment: r.Environment,
		RunID:       r.RunID,
		Generated:   now().UTC().Format(time.RFC1123),
		Services:    group(items),
	}

	var buf bytes.Buffer
	if err := assetList.Execute(&buf, data); err != nil {
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryInternal, "failed to render asset index").Build()
	}
	return buf.Bytes(), nil
}

func group(items []publish.PublishableAsset) []serviceData {
	var services []serviceData
	serviceIdx := map[string]int{}
	bundleIdx := map[string]map[string]int{}

	for _, a := range items {
		if a.AssetKey == publish.IndexKey {
			continue
		}
		si, ok := serviceIdx[a.ServiceName]
		if !ok {
			si = len(services)
			serviceIdx[a.ServiceName] = si
			bundleIdx[a.ServiceName] = map[string]int{}
			services = append(services, serviceData{Name: a.ServiceName})
		}
		svc := &services[si]
		bi, ok := bundleIdx[a.ServiceName][a.Tag]
		if !ok {
			bi = len(svc.Bundles)
			bundleIdx[a.ServiceName][a.Tag] = bi
			svc.Bundles = append(svc.Bundles, bundleData{Tag: a.Tag})
		}
		svc.Bundles[bi].Assets = append(svc.Bundles[bi].Assets, assetData{
			Key:      a.AssetKey,
			URL:      template.URL(a.URL), //nolint:gosec // base URL comes from configuration
			MimeType: a.MimeType,
			Size:     humanize.Bytes(uint64(len(a.Content))),
		})
	}
	return services
}
