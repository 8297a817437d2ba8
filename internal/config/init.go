package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

// Init writes an example configuration file to path.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return foundationerrors.ConfigError(fmt.Sprintf("configuration file already exists: %s (use --force to overwrite)", path)).
			WithContext("path", path).
			Build()
	}

	maxAge := DefaultMaxAge
	example := Config{
		Environment: "staging",
		ServicesDir: "./services",
		Build: BuildConfig{
			Workers:      4,
			Shell:        DefaultShell,
			WatchPattern: ".*",
			Interpreter: InterpreterConfig{
				VersionFile:   DefaultVersionFile,
				UsePrefix:     ". ${NVM_DIR}/nvm.sh && nvm use {version} >/dev/null && ",
				DefaultPrefix: "",
			},
		},
		Assets: AssetsConfig{
			FileTypes: DefaultFileTypes,
			CSSMinify: true,
			JS:        JSConfig{Target: DefaultJSTarget},
		},
		Publish: PublishConfig{
			CDNURL:        "https://cdn.example.com",
			MaxAge:        &maxAge,
			CompressTypes: DefaultCompressTypes,
			Storage: StorageConfig{
				Type:     StorageHTTP,
				Endpoint: "https://storage.example.com/assets",
				Token:    "${ASSETBUILDER_STORAGE_TOKEN}",
				Timeout:  "60s",
			},
			Retry: RetryConfig{
				MaxRetries:   2,
				Backoff:      RetryBackoffLinear,
				InitialDelay: "1s",
				MaxDelay:     "30s",
			},
		},
		History: HistoryConfig{DBPath: ".assetbuilder/history.db"},
	}

	data, err := yaml.Marshal(&example)
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryInternal, "failed to marshal example config").Build()
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryFileSystem, "failed to write config file").
			WithContext("path", path).
			Build()
	}
	return nil
}
