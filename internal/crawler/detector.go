package crawler

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultBlockedKeywords are matched case-insensitively against the page body.
var DefaultBlockedKeywords = []string{"captcha"}

// KeywordBlockDetector flags pages that look like anti-automation challenges.
type KeywordBlockDetector struct {
	keywords  [][]byte
	selectors []string
}

// NewKeywordBlockDetector constructs a detector. Selectors are optional CSS
// selectors whose presence also marks the page as blocked.
func NewKeywordBlockDetector(keywords, selectors []string) *KeywordBlockDetector {
	lowerKeywords := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lowerKeywords = append(lowerKeywords, bytes.ToLower([]byte(kw)))
	}
	sels := make([]string, 0, len(selectors))
	for _, s := range selectors {
		if s = strings.TrimSpace(s); s != "" {
			sels = append(sels, s)
		}
	}
	return &KeywordBlockDetector{keywords: lowerKeywords, selectors: sels}
}

// Blocked implements BlockDetector.
func (d *KeywordBlockDetector) Blocked(body []byte) bool {
	if d == nil || len(body) == 0 {
		return false
	}
	return d.containsKeywords(body) || d.matchesSelectors(body)
}

func (d *KeywordBlockDetector) containsKeywords(body []byte) bool {
	lowerBody := bytes.ToLower(body)
	for _, kw := range d.keywords {
		if bytes.Contains(lowerBody, kw) {
			return true
		}
	}
	return false
}

func (d *KeywordBlockDetector) matchesSelectors(body []byte) bool {
	if len(d.selectors) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	for _, sel := range d.selectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}
