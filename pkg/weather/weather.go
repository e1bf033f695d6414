// Package weather fetches forecasts from a livedoor Weather Hacks compatible
// API and formats them as chat replies.
package weather

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"jepcobird/pkg/bus"
)

const (
	DefaultBaseURL = "https://weather.tsukumijima.net/api/forecast"
	DefaultTimeout = 10 * time.Second

	attachmentColor    = "#7CD197"
	attachmentFallback = "Display weather from Weather Hacks"
	maxBodyBytes       = 1 << 20
)

// ErrNoForecast is returned when the requested day is beyond the forecast.
var ErrNoForecast = errors.New("no forecast for requested day")

type Day struct {
	Label    string
	Telop    string
	ImageURL string
}

type Forecast struct {
	Title       string
	Description string
	Link        string
	Days        []Day
}

// Day returns the entry offset days ahead of today.
func (f Forecast) Day(offset int) (Day, error) {
	if offset < 0 || offset >= len(f.Days) {
		return Day{}, fmt.Errorf("offset %d of %d days: %w", offset, len(f.Days), ErrNoForecast)
	}
	return f.Days[offset], nil
}

type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch issues a single request for city. There are no retries.
func (c *Client) Fetch(ctx context.Context, city string) (Forecast, error) {
	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return Forecast{}, fmt.Errorf("parse weather url: %w", err)
	}
	query := endpoint.Query()
	query.Set("city", city)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Forecast{}, fmt.Errorf("create weather request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Forecast{}, fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Forecast{}, fmt.Errorf("read weather response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Forecast{}, fmt.Errorf("weather api returned status %d", resp.StatusCode)
	}

	return Parse(body)
}

// Forecast fetches city and picks the entry offset days ahead.
func (c *Client) Forecast(ctx context.Context, city string, offset int) (Forecast, Day, error) {
	forecast, err := c.Fetch(ctx, city)
	if err != nil {
		return Forecast{}, Day{}, err
	}
	day, err := forecast.Day(offset)
	if err != nil {
		return forecast, Day{}, err
	}
	return forecast, day, nil
}

// Parse reads the subset of the forecast document the bot uses.
func Parse(body []byte) (Forecast, error) {
	if !gjson.ValidBytes(body) {
		return Forecast{}, errors.New("decode weather response: invalid json")
	}

	doc := gjson.ParseBytes(body)
	forecast := Forecast{
		Title:       doc.Get("title").String(),
		Description: doc.Get("description.text").String(),
		Link:        doc.Get("link").String(),
	}
	doc.Get("forecasts").ForEach(func(_, entry gjson.Result) bool {
		forecast.Days = append(forecast.Days, Day{
			Label:    entry.Get("dateLabel").String(),
			Telop:    entry.Get("telop").String(),
			ImageURL: entry.Get("image.url").String(),
		})
		return true
	})
	return forecast, nil
}

// FormatReply renders day as a reply to msg with the forecast card attached.
func FormatReply(msg bus.InboundMessage, forecast Forecast, day Day) bus.OutboundMessage {
	reply := bus.Reply(msg, fmt.Sprintf("%sの%sは%sだってさ。", day.Label, forecast.Title, day.Telop))
	reply.Attachments = []bus.Attachment{{
		Fallback:  attachmentFallback,
		Title:     forecast.Title,
		TitleLink: forecast.Link,
		Text:      forecast.Description,
		ImageURL:  day.ImageURL,
		Color:     attachmentColor,
	}}
	return reply
}

// DayOffset reads how many days ahead text asks about.
func DayOffset(text string) int {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(text, "明後日"), strings.Contains(text, "あさって"), strings.Contains(lower, "day after tomorrow"):
		return 2
	case strings.Contains(text, "明日"), strings.Contains(text, "あした"), strings.Contains(lower, "tomorrow"):
		return 1
	default:
		return 0
	}
}
