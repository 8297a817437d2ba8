package commands

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetbuilder/internal/config"
	"git.home.luguber.info/inful/assetbuilder/internal/eventstore"
	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

func TestConfirm(t *testing.T) {
	cases := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"Y\n", true},
		{"  y  \n", true},
		{"yes\n", false},
		{"n\n", false},
		{"\n", false},
		{"y", true},
	}
	for _, tc := range cases {
		var out bytes.Buffer
		got, err := Confirm(strings.NewReader(tc.input), &out, "Sure?")
		require.NoError(t, err, tc.input)
		assert.Equal(t, tc.want, got, tc.input)
		assert.Equal(t, "Sure? ", out.String())
	}

	_, err := Confirm(strings.NewReader(""), io.Discard, "Sure?")
	require.Error(t, err)
	assert.True(t, foundationerrors.HasCategory(err, foundationerrors.CategoryValidation))
}

func TestConfirmMessage(t *testing.T) {
	assert.Equal(t, "Are you sure you want to publish ALL assets in prod (y/N)?", confirmMessage("", "prod"))
	assert.Equal(t, "Are you sure you want to publish all top assets in prod (y/N)?", confirmMessage("top", "prod"))
}

func TestLoadServicesSkipsDirectoriesWithoutManifest(t *testing.T) {
	w := newWorkspace(t, "fs")
	cfg, err := config.Load(w.config)
	require.NoError(t, err)

	services, err := loadServices(cfg, "", "")
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, "web", services[0].Name)

	services, err = loadServices(cfg, "web", "missing-tag")
	require.NoError(t, err)
	assert.Empty(t, services)
}

func TestResolveBuildNumber(t *testing.T) {
	cfg := &config.Config{ServicesDir: t.TempDir()}
	n, err := resolveBuildNumber(cfg, "42")
	require.NoError(t, err)
	assert.Equal(t, "42", n)

	n, err = resolveBuildNumber(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultBuildNumber, n)

	cfg.BuildNumberFromGit = true
	_, err = resolveBuildNumber(cfg, "")
	require.Error(t, err)
}

func TestBuildCommandWritesRawAssets(t *testing.T) {
	w := newWorkspace(t, "none")
	out := filepath.Join(w.root, "local")

	stdout, err := run(t, "", "build", "-c", w.config, "-o", out, "-b", "9", "--no-minify")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Builds: 1 out of 1 succeeded, 0 failed")
	assert.Contains(t, stdout, "Assets written to "+out)

	css, err := os.ReadFile(filepath.Join(out, "test", "web", "9", "css", "top.css"))
	require.NoError(t, err)
	assert.Contains(t, string(css), ".a{color:red}")
	assert.Contains(t, string(css), ".b{color:blue}")
	_, err = os.Stat(filepath.Join(out, "test", "web", "9", "css", "top.css.br"))
	assert.True(t, os.IsNotExist(err))

	index, err := os.ReadFile(filepath.Join(out, "test", "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(index), "file://")
	assert.Contains(t, string(index), "web/9/js/top.js")
}

func TestBuildCommandSingleServiceSkipsIndex(t *testing.T) {
	w := newWorkspace(t, "none")
	out := filepath.Join(w.root, "local")

	_, err := run(t, "", "build", "-c", w.config, "-o", out, "--service", "web")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(out, "test", "web", DefaultBuildNumber, "js", "top.js"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(out, "test", "index.html"))
	assert.True(t, os.IsNotExist(err))
}

func TestPublishRequiresConfirmation(t *testing.T) {
	w := newWorkspace(t, "fs")

	stdout, err := run(t, "n\n", "publish", "-c", w.config)
	require.Error(t, err)
	assert.Contains(t, stdout, "publish ALL assets in test (y/N)?")
	assert.True(t, foundationerrors.HasCategory(err, foundationerrors.CategoryValidation))
	assert.Equal(t, "Not confirmed", foundationerrors.UserMessage(err))
	_, err = os.Stat(w.out)
	assert.True(t, os.IsNotExist(err))
}

func TestPublishCommandCompressesAndRecordsHistory(t *testing.T) {
	w := newWorkspace(t, "fs")

	stdout, err := run(t, "y\n", "publish", "-c", w.config, "-e", "prod", "-b", "3")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Done")
	assert.Contains(t, stdout, "https://cdn.example.com/prod/web/3/css/top.css")

	raw, err := os.ReadFile(filepath.Join(w.out, "prod", "web", "3", "css", "top.css"))
	require.NoError(t, err)
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	css, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Contains(t, string(css), ".b{color:blue}")
	_, err = os.Stat(filepath.Join(w.out, "prod", "web", "3", "css", "top.css.br"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(w.out, "prod", "index.html"))
	require.NoError(t, err)

	store, err := eventstore.NewSQLiteStore(w.db)
	require.NoError(t, err)
	runs, err := eventstore.ListRuns(t.Context(), store, time.Time{}, 0)
	require.NoError(t, store.Close())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "publish", runs[0].Command)
	assert.Equal(t, "prod", runs[0].Environment)
	assert.Equal(t, "3", runs[0].BuildNumber)
	assert.Equal(t, "succeeded", runs[0].Status())

	listing, err := run(t, "", "history", "-c", w.config)
	require.NoError(t, err)
	assert.Contains(t, listing, "RUN")
	assert.Contains(t, listing, runs[0].RunID)
	assert.Contains(t, listing, "succeeded")

	events, err := run(t, "", "history", "-c", w.config, runs[0].RunID)
	require.NoError(t, err)
	assert.Contains(t, events, eventstore.TypeRunStarted)
	assert.Contains(t, events, eventstore.TypeAssetPublished)
	assert.Contains(t, events, eventstore.TypeRunCompleted)
}

func TestHistoryCommand(t *testing.T) {
	w := newWorkspace(t, "fs")

	out, err := run(t, "", "history", "-c", w.config)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded")

	_, err = run(t, "", "history", "-c", w.config, "unknown-run")
	require.Error(t, err)
	assert.True(t, foundationerrors.HasCategory(err, foundationerrors.CategoryValidation))

	var buf bytes.Buffer
	err = RunHistory(t.Context(), &buf, &config.Config{}, &HistoryCmd{})
	require.Error(t, err)
	assert.True(t, foundationerrors.HasCategory(err, foundationerrors.CategoryConfig))
}
