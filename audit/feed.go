// Package audit checks installed packages against a security advisory feed.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	composerhttp "github.com/willibrandon/composer-prefetch/http"
	"github.com/willibrandon/composer-prefetch/observability"
)

// DefaultFeedURL serves the public advisory database.
const DefaultFeedURL = "https://packagist.org"

// names per advisory request, keeping the query string short
const batchSize = 100

// Advisory is one published security advisory.
type Advisory struct {
	ID               string `json:"advisoryId"`
	PackageName      string `json:"packageName"`
	AffectedVersions string `json:"affectedVersions"`
	Title            string `json:"title"`
	CVE              string `json:"cve"`
	Link             string `json:"link"`
	Severity         string `json:"severity,omitempty"`
}

// Feed returns the advisories of the named packages, keyed by package name.
type Feed interface {
	Advisories(ctx context.Context, names []string) (map[string][]Advisory, error)
}

// HTTPFeed reads advisories from <base>/api/security-advisories/.
type HTTPFeed struct {
	baseURL string
	client  *composerhttp.Client
	logger  observability.Logger
}

// NewHTTPFeed creates a feed. An empty baseURL selects DefaultFeedURL and a
// nil client the default client.
func NewHTTPFeed(baseURL string, client *composerhttp.Client, logger observability.Logger) *HTTPFeed {
	if baseURL == "" {
		baseURL = DefaultFeedURL
	}
	if client == nil {
		client = composerhttp.NewClient(composerhttp.DefaultConfig())
	}
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	return &HTTPFeed{baseURL: strings.TrimSuffix(baseURL, "/"), client: client, logger: logger}
}

// Advisories implements Feed.
func (f *HTTPFeed) Advisories(ctx context.Context, names []string) (map[string][]Advisory, error) {
	out := make(map[string][]Advisory)
	for start := 0; start < len(names); start += batchSize {
		end := min(start+batchSize, len(names))
		if err := f.fetch(ctx, names[start:end], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (f *HTTPFeed) fetch(ctx context.Context, names []string, out map[string][]Advisory) error {
	query := url.Values{"packages[]": names}
	endpoint := f.baseURL + "/api/security-advisories/?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create advisory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.DoWithRetry(ctx, req)
	if err != nil {
		return &composerhttp.TransportError{URL: endpoint, Message: err.Error(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &composerhttp.TransportError{StatusCode: resp.StatusCode, URL: endpoint, Message: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read advisories: %w", err)
	}

	var doc struct {
		Advisories json.RawMessage `json:"advisories"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("decode advisories: %w", err)
	}
	// no advisories at all is encoded as []
	if len(doc.Advisories) == 0 || bytes.Equal(bytes.TrimSpace(doc.Advisories), []byte("[]")) {
		return nil
	}

	var byName map[string][]Advisory
	if err := json.Unmarshal(doc.Advisories, &byName); err != nil {
		return fmt.Errorf("decode advisories: %w", err)
	}
	for name, advisories := range byName {
		name = strings.ToLower(name)
		out[name] = append(out[name], advisories...)
	}
	f.logger.Debug("Fetched advisories for {Count} of {Requested} packages", len(byName), len(names))
	return nil
}
