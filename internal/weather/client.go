// Package weather fetches seasonal weather averages used as model features.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"agrisense/internal/errdef"
)

// Averages are the seasonal means fed into the crop and yield models.
type Averages struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Rainfall    float64 `json:"rainfall"`
}

// Provider produces seasonal averages for a location.
type Provider interface {
	SeasonalAverages(ctx context.Context, lat, lon float64, season string) (Averages, error)
}

// Client queries the Open-Meteo historical archive.
type Client struct {
	httpClient *resty.Client
	now        func() time.Time
}

func NewClient(baseURL string) *Client {
	return &Client{
		httpClient: resty.New().SetBaseURL(baseURL).SetTimeout(20 * time.Second),
		now:        time.Now,
	}
}

type archiveResponse struct {
	Daily struct {
		Time        []string   `json:"time"`
		Temperature []*float64 `json:"temperature_2m_mean"`
		Humidity    []*float64 `json:"relative_humidity_2m_mean"`
		Rainfall    []*float64 `json:"precipitation_sum"`
	} `json:"daily"`
}

// SeasonalAverages averages daily means over the agricultural season's date
// window. Kharif (monsoon) is June–September of the previous year; Rabi
// (winter) runs October of the previous year to March of the current one.
// Unknown seasons fall back to the trailing three months.
func (c *Client) SeasonalAverages(ctx context.Context, lat, lon float64, season string) (Averages, error) {
	start, end := c.seasonWindow(season)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"latitude":   fmt.Sprintf("%f", lat),
			"longitude":  fmt.Sprintf("%f", lon),
			"start_date": start,
			"end_date":   end,
			"daily":      "temperature_2m_mean,relative_humidity_2m_mean,precipitation_sum",
			"timezone":   "auto",
		}).
		Get("")
	if err != nil {
		return Averages{}, &errdef.NetworkError{Err: err}
	}
	if resp.IsError() {
		return Averages{}, &errdef.RemoteServiceError{StatusCode: resp.StatusCode()}
	}

	var body archiveResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return Averages{}, &errdef.InvalidResponseError{Reason: "malformed weather archive body"}
	}

	temp, ok1 := mean(body.Daily.Temperature)
	hum, ok2 := mean(body.Daily.Humidity)
	rain, ok3 := mean(body.Daily.Rainfall)
	if !ok1 || !ok2 || !ok3 {
		return Averages{}, &errdef.InvalidResponseError{Reason: "weather archive returned no usable daily data"}
	}

	return Averages{
		Temperature: temp,
		Humidity:    hum,
		// Approximate monthly total from the daily mean.
		Rainfall: rain * 30,
	}, nil
}

func (c *Client) seasonWindow(season string) (string, string) {
	now := c.now()
	year := now.Year()

	switch strings.ToLower(season) {
	case "kharif":
		return fmt.Sprintf("%d-06-01", year-1), fmt.Sprintf("%d-09-30", year-1)
	case "rabi":
		return fmt.Sprintf("%d-10-01", year-1), fmt.Sprintf("%d-03-31", year)
	default:
		start := now.AddDate(0, -3, 0)
		return start.Format("2006-01-02"), now.Format("2006-01-02")
	}
}

// mean averages non-null entries; ok is false when nothing is usable.
func mean(vals []*float64) (float64, bool) {
	sum := 0.0
	n := 0
	for _, v := range vals {
		if v == nil {
			continue
		}
		sum += *v
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
