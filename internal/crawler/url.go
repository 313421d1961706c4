package crawler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// SearchURLBuilder renders the paginated results URL for a target.
type SearchURLBuilder struct {
	BaseURL    string
	SearchPath string
	// Filters are fixed query parameters appended to every search.
	Filters map[string]string
}

// Build returns the results URL for target at page.
func (b SearchURLBuilder) Build(target Target, page int) (string, error) {
	base, err := url.Parse(strings.TrimRight(b.BaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("base url %q must be absolute", b.BaseURL)
	}
	path := b.SearchPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	base.Path = path

	q := url.Values{}
	for k, v := range b.Filters {
		q.Set(k, v)
	}
	q.Set("makes[]", target.Make)
	q.Set("models[]", target.Slug())
	q.Set("page", strconv.Itoa(page))
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// CanonicalLink resolves href against base and normalizes it for deduplication.
// It lowercases the scheme and host, removes default ports, drops the fragment,
// and sorts query parameters.
func CanonicalLink(base, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("empty link")
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse link: %w", err)
	}
	u := baseURL.ResolveReference(ref)

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}
