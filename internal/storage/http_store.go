package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	foundationerrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

// HTTPStore writes objects with PUT requests to endpoint/key.
type HTTPStore struct {
	endpoint *url.URL
	token    string
	client   *http.Client
}

// NewHTTPStore validates endpoint and returns a store using a client with
// the given timeout.
func NewHTTPStore(endpoint, token string, timeout time.Duration) (*HTTPStore, error) {
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, foundationerrors.ConfigError("invalid storage endpoint").
			WithCause(err).
			WithContext("endpoint", endpoint).
			Build()
	}
	return &HTTPStore{
		endpoint: u,
		token:    token,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// URL returns the address key is written to.
func (s *HTTPStore) URL(key string) string {
	return s.endpoint.JoinPath(strings.Split(key, "/")...).String()
}

// Put implements ContentStore.
func (s *HTTPStore) Put(ctx context.Context, key string, data []byte, headers http.Header) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.URL(key), bytes.NewReader(data))
	if err != nil {
		return 0, foundationerrors.InternalError("failed to build upload request").WithCause(err).Build()
	}
	for name, values := range headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.ContentLength = int64(len(data))
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, foundationerrors.NetworkError(fmt.Sprintf("upload of %s failed", key)).
			WithCause(err).
			WithContext("key", key).
			Build()
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	return resp.StatusCode, nil
}
