package htmlindex

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetbuilder/internal/assets"
	"git.home.luguber.info/inful/assetbuilder/internal/publish"
)

func TestRenderGroupsByServiceAndTag(t *testing.T) {
	opts := publish.PrepareOptions{Environment: "prod", CDNURL: "https://cdn.example.com"}
	items, _ := publish.Prepare([]assets.Record{
		{ServiceName: "web", Tag: "top", Type: assets.TypeJS, AssetKey: "web/1/js/top.js", MimeType: "application/javascript", Content: []byte("var a;")},
		{ServiceName: "api", Tag: "bottom", Type: assets.TypeCSS, AssetKey: "api/1/css/bottom.css", MimeType: "text/css", Content: []byte("a{}")},
		{ServiceName: "web", Tag: "bottom", Type: assets.TypeCSS, AssetKey: "web/1/css/bottom.css", MimeType: "text/css", Content: []byte("b{}")},
		{ServiceName: "web", Tag: "top", Type: assets.TypeCSS, AssetKey: "web/1/css/top.css", MimeType: "text/css", Content: []byte("<script>")},
	}, opts)
	items = append(items, publish.Index([]byte("old"), opts))

	r := TemplateRenderer{Environment: "prod", RunID: "run-1", Now: func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}}
	out, err := r.Render(items)
	require.NoError(t, err)
	html := string(out)

	assert.Contains(t, html, "<title>Assets in prod</title>")
	assert.Contains(t, html, "Sun, 01 Mar 2026 12:00:00 UTC")
	assert.Contains(t, html, `<a href="https://cdn.example.com/prod/web/1/js/top.js">web/1/js/top.js</a>`)
	assert.NotContains(t, html, "index.html")

	web := strings.Index(html, "<h2>web</h2>")
	api := strings.Index(html, "<h2>api</h2>")
	require.True(t, web >= 0 && api >= 0)
	assert.Less(t, web, api)

	top := strings.Index(html, "<h3>top</h3>")
	bottom := strings.Index(html, "<h3>bottom</h3>")
	assert.Less(t, top, bottom)
}

func TestRenderEmpty(t *testing.T) {
	out, err := TemplateRenderer{}.Render(nil)
	require.NoError(t, err)
	assert.Contains(t, string(out), "<h1>Assets</h1>")
}

func TestRenderKeepsFileURLs(t *testing.T) {
	items, _ := publish.Prepare([]assets.Record{
		{ServiceName: "web", Tag: "top", Type: assets.TypeJS, AssetKey: "web/1/js/top.js", MimeType: "application/javascript", Content: []byte("var a;")},
	}, publish.PrepareOptions{Environment: "local", CDNURL: "file:///tmp/out"})

	out, err := TemplateRenderer{}.Render(items)
	require.NoError(t, err)
	assert.Contains(t, string(out), `href="file:///tmp/out/local/web/1/js/top.js"`)
	assert.NotContains(t, string(out), "ZgotmplZ")
}
