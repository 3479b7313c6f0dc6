package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrisense/internal/cache"
)

func TestPricesLiveHit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.URL.Path, "/resource/"+liveResource))
		assert.Equal(t, "testkey", r.URL.Query().Get("api-key"))
		assert.Equal(t, "Maharashtra", r.URL.Query().Get("filters[state]"))
		assert.Equal(t, "Rice", r.URL.Query().Get("filters[commodity]"))
		io.WriteString(w, `{"records":[{"market":"Nashik","min_price":"1200","max_price":"1550"}]}`)
	}))
	defer ts.Close()

	c := NewClient(ClientOpts{BaseURL: ts.URL, APIKey: "testkey"})
	quote, err := c.Prices(context.Background(), "Maharashtra", "Nashik", "rice", []string{"Rice"})
	require.NoError(t, err)
	require.NotNil(t, quote)

	assert.Equal(t, 1200, quote.MinPrice)
	assert.Equal(t, 1550, quote.MaxPrice)
	assert.Equal(t, "Nashik", quote.Market)
	assert.Equal(t, "live", quote.Source)
}

func TestPricesTriesAPINamesInOrder(t *testing.T) {
	var commodities []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		commodity := r.URL.Query().Get("filters[commodity]")
		commodities = append(commodities, commodity)
		if commodity == "Paddy(Dhan)(Common)" {
			io.WriteString(w, `{"records":[{"market":"Pune","min_price":"1800","max_price":"1900"}]}`)
			return
		}
		io.WriteString(w, `{"records":[]}`)
	}))
	defer ts.Close()

	c := NewClient(ClientOpts{BaseURL: ts.URL, APIKey: "k"})
	quote, err := c.Prices(context.Background(), "Maharashtra", "Pune", "rice",
		[]string{"Rice", "Paddy(Dhan)(Common)"})
	require.NoError(t, err)
	require.NotNil(t, quote)

	assert.Equal(t, []string{"Rice", "Paddy(Dhan)(Common)"}, commodities)
	assert.Equal(t, 1800, quote.MinPrice)
}

func TestPricesSeasonalAverageFallback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/resource/"+liveResource) {
			io.WriteString(w, `{"records":[]}`)
			return
		}
		assert.Equal(t, "Maharashtra", r.URL.Query().Get("filters[State]"))
		// July window around a July "now": June and August qualify, January
		// does not, and non-positive prices are skipped.
		io.WriteString(w, `{"records":[
			{"Modal_Price":"1000","Price_Date":"15/07/2025"},
			{"Modal_Price":"2000","Price_Date":"20/06/2025"},
			{"Modal_Price":"3000","Price_Date":"10/01/2025"},
			{"Modal_Price":"0","Price_Date":"15/07/2025"},
			{"Modal_Price":"garbage","Price_Date":"15/07/2025"}
		]}`)
	}))
	defer ts.Close()

	c := NewClient(ClientOpts{BaseURL: ts.URL, APIKey: "k"})
	c.now = func() time.Time { return time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC) }

	quote, err := c.Prices(context.Background(), "Maharashtra", "Pune", "rice", []string{"Rice"})
	require.NoError(t, err)
	require.NotNil(t, quote)

	assert.Equal(t, 1500, quote.MinPrice)
	assert.Equal(t, 1500, quote.MaxPrice)
	assert.Equal(t, "seasonal-average", quote.Source)
	assert.Equal(t, "N/A", quote.Market)
}

func TestPricesNoDataAnywhere(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"records":[]}`)
	}))
	defer ts.Close()

	c := NewClient(ClientOpts{BaseURL: ts.URL, APIKey: "k"})
	quote, err := c.Prices(context.Background(), "Maharashtra", "Pune", "quinoa", nil)
	require.NoError(t, err)
	assert.Nil(t, quote)
}

func TestPricesMemoized(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		io.WriteString(w, fmt.Sprintf(`{"records":[{"market":"Nashik","min_price":"%d","max_price":"%d"}]}`, 1000+calls, 2000+calls))
	}))
	defer ts.Close()

	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"), 100)
	require.NoError(t, err)
	defer store.Close()

	c := NewClient(ClientOpts{BaseURL: ts.URL, APIKey: "k", Store: store, CacheTTL: time.Hour})

	first, err := c.Prices(context.Background(), "Maharashtra", "Nashik", "rice", []string{"Rice"})
	require.NoError(t, err)
	second, err := c.Prices(context.Background(), "Maharashtra", "Nashik", "rice", []string{"Rice"})
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "second lookup must come from the cache")
	assert.Equal(t, first, second)
}

func TestPricesRequiresAPIKey(t *testing.T) {
	c := NewClient(ClientOpts{BaseURL: "http://unused"})
	_, err := c.Prices(context.Background(), "Maharashtra", "Pune", "rice", nil)
	assert.Error(t, err)
}
