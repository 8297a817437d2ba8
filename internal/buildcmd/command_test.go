package buildcmd

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/manifest"
)

func line(s string) manifest.CommandSpec { return manifest.CommandSpec{Line: s} }

func vector(args ...string) manifest.CommandSpec {
	return manifest.CommandSpec{Args: args, Vector: true}
}

func TestResolveOneShot(t *testing.T) {
	cmd, err := Resolve(manifest.BuildConfig{Command: line("npm run build")}, "", false, nil)
	require.NoError(t, err)
	assert.Equal(t, KindShell, cmd.Kind)
	assert.Equal(t, "npm run build", cmd.Line)
	assert.Equal(t, "npm run build", cmd.Display)
	assert.False(t, cmd.Watch)

	cmd, err = Resolve(manifest.BuildConfig{Command: vector("npm", "run", "build")}, "", false, nil)
	require.NoError(t, err)
	assert.Equal(t, KindExec, cmd.Kind)
	assert.Equal(t, "npm", cmd.Executable)
	assert.Equal(t, []string{"run", "build"}, cmd.Args)
	assert.Equal(t, `["npm","run","build"]`, cmd.Display)
}

func TestResolveRejectsEmptyCommands(t *testing.T) {
	for _, cfg := range []manifest.BuildConfig{
		{Command: line("   ")},
		{Command: vector()},
		{},
	} {
		_, err := Resolve(cfg, "", false, nil)
		require.Error(t, err)
		assert.True(t, foundationerrors.HasCategory(err, foundationerrors.CategoryValidation))
	}
	_, err := Resolve(manifest.BuildConfig{}, "", true, nil)
	require.Error(t, err)
}

func TestResolveWatchDefaults(t *testing.T) {
	cmd, err := Resolve(manifest.BuildConfig{Command: line("gulp")}, "", true, nil)
	require.NoError(t, err)
	assert.Equal(t, KindShell, cmd.Kind)
	assert.Equal(t, "gulp", cmd.Line)
	assert.True(t, cmd.Watch)
	assert.Equal(t, DefaultReady, cmd.Ready)
	assert.Equal(t, DefaultTimeout, cmd.Timeout)
}

func TestResolveWatchOverrides(t *testing.T) {
	cfg := manifest.BuildConfig{
		Command: vector("npm", "run", "build"),
		Watch:   &manifest.WatchConfig{Command: line("npm run watch"), Ready: "READY", Timeout: 500},
	}
	cmd, err := Resolve(cfg, "", true, nil)
	require.NoError(t, err)
	assert.Equal(t, "npm run watch", cmd.Line)
	assert.Equal(t, "READY", cmd.Ready)
	assert.Equal(t, 500*time.Millisecond, cmd.Timeout)

	cfg.Watch = &manifest.WatchConfig{Ready: "done"}
	cmd, err = Resolve(cfg, "", true, nil)
	require.NoError(t, err)
	assert.Equal(t, KindShell, cmd.Kind, "watch commands always run through the shell")
	assert.Equal(t, "npm run build", cmd.Line)
	assert.Equal(t, `["npm","run","build"]`, cmd.Display)
}

func TestPrefixShim(t *testing.T) {
	shim := PrefixShim{
		UsePrefix:     "nvm use {version} && ",
		DefaultPrefix: "nvm use default && ",
		ExecPrefix:    []string{"nvm-exec", "{version}"},
	}

	cmd, err := Resolve(manifest.BuildConfig{Command: line("make")}, "18.19.0", false, shim)
	require.NoError(t, err)
	assert.Equal(t, "nvm use 18.19.0 && make", cmd.Line)
	assert.Equal(t, "make", cmd.Display)

	cmd, err = Resolve(manifest.BuildConfig{Command: line("make")}, "", false, shim)
	require.NoError(t, err)
	assert.Equal(t, "nvm use default && make", cmd.Line)

	cmd, err = Resolve(manifest.BuildConfig{Command: vector("node", "build.js")}, "20", false, shim)
	require.NoError(t, err)
	assert.Equal(t, "nvm-exec", cmd.Executable)
	assert.Equal(t, []string{"20", "node", "build.js"}, cmd.Args)

	cmd, err = Resolve(manifest.BuildConfig{Command: vector("node", "build.js")}, "20", false, PrefixShim{})
	require.NoError(t, err)
	assert.Equal(t, "node", cmd.Executable)
	assert.Equal(t, []string{"build.js"}, cmd.Args)
}

func TestJoinArgs(t *testing.T) {
	assert.Equal(t, "npm run build", JoinArgs([]string{"npm", "run", "build"}))
	assert.Equal(t, `echo 'hello world' '' 'it'\''s'`, JoinArgs([]string{"echo", "hello world", "", "it's"}))
}

func TestCommandMarshalJSON(t *testing.T) {
	data, err := json.Marshal(Command{Kind: KindExec, Executable: "npm", Args: []string{"test"}, Display: `["npm","test"]`})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"exec","display":"[\"npm\",\"test\"]","exec":["npm","test"]}`, string(data))
}
