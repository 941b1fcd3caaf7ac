package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const DefaultIPInfoURL = "https://ipinfo.io"

// IPInfoClient talks to the IPinfo Lite API (GET {base}/{ip}/lite).
type IPInfoClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewIPInfoClient(baseURL, token string, client *http.Client) *IPInfoClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultIPInfoURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &IPInfoClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

type ipinfoLiteResponse struct {
	Country       string `json:"country"`
	CountryName   string `json:"country_name"`
	CountryCode   string `json:"country_code"`
	Continent     string `json:"continent"`
	ContinentName string `json:"continent_name"`
	ContinentCode string `json:"continent_code"`
	Bogon         bool   `json:"bogon"`
}

func (c *IPInfoClient) Lookup(ctx context.Context, ip string) (Location, error) {
	endpoint := fmt.Sprintf("%s/%s/lite", c.baseURL, url.PathEscape(ip))
	if c.token != "" {
		endpoint += "?token=" + url.QueryEscape(c.token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Location{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("geo: ipinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return Location{}, fmt.Errorf("geo: ipinfo status %d", resp.StatusCode)
	}

	var body ipinfoLiteResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("geo: ipinfo decode: %w", err)
	}
	if body.Bogon {
		return Location{}, ErrNotRoutable
	}

	loc := Location{
		Country:       firstNonEmpty(body.Country, body.CountryName),
		CountryCode:   body.CountryCode,
		Continent:     firstNonEmpty(body.Continent, body.ContinentName),
		ContinentCode: body.ContinentCode,
	}
	if loc.Empty() {
		return Location{}, ErrNotFound
	}
	return loc, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
