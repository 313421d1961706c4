// Package parser extracts listing cards from marketplace results pages.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// Selectors locate the fields of a listing card. Card-relative except Card.
type Selectors struct {
	Card           string
	Link           string
	Title          string
	Price          string
	Mileage        string
	Dealer         string
	Region         string
	MonthlyPayment string
	// MonthlyPaymentAttr holds the bare payment amount on the MonthlyPayment element.
	MonthlyPaymentAttr string
}

// DefaultSelectors match the vehicle-card markup of the search results page.
var DefaultSelectors = Selectors{
	Card:               "div.vehicle-card",
	Link:               "a[href]",
	Title:              "h2.title",
	Price:              "span.primary-price",
	Mileage:            "div.mileage",
	Dealer:             "div.dealer-name",
	Region:             `div.vehicle-dealer div[data-qa="miles-from-user"]`,
	MonthlyPayment:     "spark-button.monthly-payment-est-link",
	MonthlyPaymentAttr: "phx-value-monthly-payment",
}

var (
	yearPattern     = regexp.MustCompile(`\b(\d{4})\b`)
	distancePattern = regexp.MustCompile(`^(.*)\s+\(\d+\s*mi\.\)$`)
)

// CarsParser implements crawler.ListingParser for vehicle search results.
type CarsParser struct {
	baseURL   string
	selectors Selectors
}

// NewCarsParser builds a parser that resolves card links against baseURL.
// Zero-valued selectors fall back to DefaultSelectors.
func NewCarsParser(baseURL string, selectors Selectors) *CarsParser {
	return &CarsParser{baseURL: baseURL, selectors: withDefaults(selectors)}
}

// Parse implements crawler.ListingParser. Cards keep page order; a card
// without a resolvable link is returned with an empty Link.
func (p *CarsParser) Parse(target crawler.Target, body []byte, capturedAt time.Time) (crawler.ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.ParseResult{}, fmt.Errorf("parse results page: %w", err)
	}

	cards := doc.Find(p.selectors.Card)
	listings := make([]crawler.RawListing, 0, cards.Length())
	cards.Each(func(_ int, card *goquery.Selection) {
		listings = append(listings, p.parseCard(target, card, capturedAt))
	})
	return crawler.ParseResult{Listings: listings, More: len(listings) > 0}, nil
}

func (p *CarsParser) parseCard(target crawler.Target, card *goquery.Selection, capturedAt time.Time) crawler.RawListing {
	title := text(card, p.selectors.Title)
	condition, year, modelTitle := splitTitle(title)
	region := parseRegion(text(card, p.selectors.Region))

	listing := crawler.RawListing{
		Title:      title,
		Make:       capitalize(target.Make),
		Model:      target.Slug(),
		ModelTitle: modelTitle,
		Condition:  condition,
		Year:       year,
		Price:      text(card, p.selectors.Price),
		Mileage:    text(card, p.selectors.Mileage),
		Dealer:     text(card, p.selectors.Dealer),
		Region:     region,
		State:      stateOf(region),
		CapturedAt: capturedAt,
	}
	if amount, ok := card.Find(p.selectors.MonthlyPayment).First().Attr(p.selectors.MonthlyPaymentAttr); ok && strings.TrimSpace(amount) != "" {
		listing.MonthlyPayment = "$" + strings.TrimSpace(amount) + "/mo"
	}
	if href, ok := card.Find(p.selectors.Link).First().Attr("href"); ok {
		if link, err := crawler.CanonicalLink(p.baseURL, href); err == nil {
			listing.Link = link
		}
	}
	return listing
}

// splitTitle splits "Used 2021 Toyota Camry SE" into condition "Used",
// year "2021", and model title "Toyota Camry SE".
func splitTitle(title string) (condition, year, modelTitle string) {
	loc := yearPattern.FindStringSubmatchIndex(title)
	if loc == nil {
		return "", "", ""
	}
	year = title[loc[2]:loc[3]]
	condition = strings.TrimSpace(title[:loc[0]])
	modelTitle = strings.TrimSpace(title[loc[1]:])
	return condition, year, modelTitle
}

// parseRegion strips the "(N mi.)" distance suffix.
func parseRegion(raw string) string {
	if raw == "" {
		return ""
	}
	if m := distancePattern.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	before, _, _ := strings.Cut(raw, "(")
	return strings.TrimSpace(before)
}

// stateOf returns the trailing two-letter state of "City, ST".
func stateOf(region string) string {
	region = strings.TrimSpace(region)
	if !strings.Contains(region, ",") || len(region) < 2 {
		return ""
	}
	return region[len(region)-2:]
}

func text(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.Join(strings.Fields(s.Find(selector).First().Text()), " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func withDefaults(s Selectors) Selectors {
	d := DefaultSelectors
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&s.Card, d.Card)
	fill(&s.Link, d.Link)
	fill(&s.Title, d.Title)
	fill(&s.Price, d.Price)
	fill(&s.Mileage, d.Mileage)
	fill(&s.Dealer, d.Dealer)
	fill(&s.Region, d.Region)
	fill(&s.MonthlyPayment, d.MonthlyPayment)
	fill(&s.MonthlyPaymentAttr, d.MonthlyPaymentAttr)
	return s
}
