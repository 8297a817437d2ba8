package assets

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestCreateKey(t *testing.T) {
	tests := []struct {
		name                                 string
		service, build, tag, infix, dir, ext string
		want                                 string
	}{
		{"js", "svc", "1", "top", "", "js", "js", "svc/1/js/top.js"},
		{"js map", "svc", "1", "top", "js", "js", "map", "svc/1/js/top.js.map"},
		{"css", "svc", "1", "top", "", "css", "css", "svc/1/css/top.css"},
		{"no build", "svc", "", "top", "", "css", "css", "svc/css/top.css"},
		{"no dir", "svc", "2", "top", "min", "", "js", "svc/2/top.min.js"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CreateKey(tt.service, tt.build, tt.tag, tt.infix, tt.dir, tt.ext))
		})
	}
}

func TestCreateKeyProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	segment := gen.AlphaString()
	properties.Property("same inputs give the same key without empty segments", prop.ForAll(
		func(service, build, tag, dir string) bool {
			if service == "" || tag == "" {
				return true
			}
			first := CreateKey(service, build, tag, "", dir, "js")
			second := CreateKey(service, build, tag, "", dir, "js")
			return first == second &&
				!strings.Contains(first, "//") &&
				strings.HasPrefix(first, service+"/") &&
				strings.HasSuffix(first, "/"+tag+".js")
		},
		segment, segment, segment, segment,
	))

	properties.TestingRun(t)
}

func TestMimeType(t *testing.T) {
	assert.Equal(t, "application/javascript", MimeType("app.js"))
	assert.Equal(t, "application/json", MimeType("app.js.map"))
	assert.Equal(t, "image/svg+xml", MimeType("ICON.SVG"))
	assert.Equal(t, "font/woff2", MimeType("font.woff2"))
	assert.Equal(t, "application/octet-stream", MimeType("blob.unknownext"))
}

func TestNeedsBuild(t *testing.T) {
	present := Record{Type: TypeJS, Exists: true}
	missing := Record{Type: TypeJS}
	errRecord := Record{Type: TypeError}

	assert.False(t, NeedsBuild(nil))
	assert.False(t, NeedsBuild([]Record{present, present}))
	assert.True(t, NeedsBuild([]Record{present, missing}))
	assert.True(t, NeedsBuild([]Record{present, errRecord}))
}
