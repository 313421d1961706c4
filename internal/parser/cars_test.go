package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

const resultsPage = `<!doctype html>
<html><body>
<div class="vehicle-cards">
  <div class="vehicle-card">
    <a href="/vehicledetail/aaa-111/#photos">
      <h2 class="title">Used 2021 Toyota Camry SE</h2>
    </a>
    <span class="primary-price">$24,500</span>
    <div class="mileage">31,204 mi.</div>
    <spark-button class="monthly-payment-est-link" phx-value-monthly-payment="412"></spark-button>
    <div class="vehicle-dealer">
      <div class="dealer-name"><strong>Sunrise   Toyota</strong></div>
      <div data-qa="miles-from-user">Austin, TX (12 mi.)</div>
    </div>
  </div>
  <div class="vehicle-card">
    <a href="/vehicledetail/bbb-222/">
      <h2 class="title">Toyota Certified 2019 Toyota Camry LE</h2>
    </a>
    <span class="primary-price">$19,900</span>
    <div class="mileage">58,000 mi.</div>
    <div class="vehicle-dealer">
      <div class="dealer-name">Hill Country Motors</div>
      <div data-qa="miles-from-user">Round Rock</div>
    </div>
  </div>
  <div class="vehicle-card">
    <h2 class="title">Camry</h2>
  </div>
</div>
</body></html>`

func TestCarsParserExtractsCards(t *testing.T) {
	p := NewCarsParser("https://www.cars.com", Selectors{})
	captured := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	target := crawler.Target{Make: "toyota", Model: "camry"}

	res, err := p.Parse(target, []byte(resultsPage), captured)
	require.NoError(t, err)
	require.True(t, res.More)
	require.Len(t, res.Listings, 3)

	first := res.Listings[0]
	require.Equal(t, crawler.RawListing{
		Title:          "Used 2021 Toyota Camry SE",
		Make:           "Toyota",
		Model:          "toyota-camry",
		ModelTitle:     "Toyota Camry SE",
		Condition:      "Used",
		Year:           "2021",
		Price:          "$24,500",
		MonthlyPayment: "$412/mo",
		Mileage:        "31,204 mi.",
		Dealer:         "Sunrise Toyota",
		Region:         "Austin, TX",
		State:          "TX",
		Link:           "https://www.cars.com/vehicledetail/aaa-111/",
		CapturedAt:     captured,
	}, first)

	second := res.Listings[1]
	require.Equal(t, "Toyota Certified", second.Condition)
	require.Equal(t, "2019", second.Year)
	require.Equal(t, "Toyota Camry LE", second.ModelTitle)
	require.Empty(t, second.MonthlyPayment)
	require.Equal(t, "Round Rock", second.Region)
	require.Empty(t, second.State)

	third := res.Listings[2]
	require.Empty(t, third.Link, "card without an anchor has no link")
	require.Empty(t, third.Year)
	require.Empty(t, third.Condition)
}

func TestCarsParserEmptyPage(t *testing.T) {
	p := NewCarsParser("https://www.cars.com", Selectors{})
	res, err := p.Parse(crawler.Target{Make: "acura", Model: "mdx"}, []byte("<html><body><p>No results</p></body></html>"), time.Now())
	require.NoError(t, err)
	require.Empty(t, res.Listings)
	require.False(t, res.More)
}

func TestSplitTitle(t *testing.T) {
	testCases := []struct {
		title, condition, year, model string
	}{
		{"Used 2020 Honda Civic EX", "Used", "2020", "Honda Civic EX"},
		{"2018 Ford F-150 XLT", "", "2018", "Ford F-150 XLT"},
		{"Certified 2022 BMW X5 xDrive40i 2022 Edition", "Certified", "2022", "BMW X5 xDrive40i 2022 Edition"},
		{"Mystery Car", "", "", ""},
	}
	for _, tc := range testCases {
		t.Run(tc.title, func(t *testing.T) {
			condition, year, model := splitTitle(tc.title)
			require.Equal(t, tc.condition, condition)
			require.Equal(t, tc.year, year)
			require.Equal(t, tc.model, model)
		})
	}
}

func TestParseRegionAndState(t *testing.T) {
	require.Equal(t, "Denver, CO", parseRegion("Denver, CO (45 mi.)"))
	require.Equal(t, "Denver, CO", parseRegion("Denver, CO(unknown)"))
	require.Equal(t, "", parseRegion(""))
	require.Equal(t, "CO", stateOf("Denver, CO"))
	require.Equal(t, "", stateOf("Denver"))
}
