// Package places is a client for the Places text search and details web
// service, authenticated with a caller-supplied API key per request.
package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultBaseURL   = "https://maps.googleapis.com/maps/api/place"
	defaultLanguage  = "ja"
	defaultPageDelay = 2 * time.Second
	defaultMaxPages  = 3
	pageTokenRetries = 2
	maxResponseBytes = 4 << 20

	detailFields = "name,formatted_address,formatted_phone_number,international_phone_number,website,rating"
)

// Summary is one text search hit.
type Summary struct {
	PlaceID          string
	Name             *string
	FormattedAddress *string
	Rating           *float64
}

// Detail holds the extended fields of one place. Absent fields are nil.
type Detail struct {
	Name                     *string
	FormattedAddress         *string
	Phone                    *string
	InternationalPhoneNumber *string
	Website                  *string
	Rating                   *float64
}

// Client performs Places API operations.
type Client interface {
	// Search pages through text search results until limit summaries have
	// been yielded or no further page exists. An error ends the sequence.
	Search(ctx context.Context, query, apiKey string, limit int) iter.Seq2[Summary, error]
	// Details fetches a single place.
	Details(ctx context.Context, placeID, apiKey string) (Detail, error)
}

// Waiter throttles outbound requests.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithLanguage sets the response language.
func WithLanguage(lang string) Option {
	return func(c *httpClient) {
		c.language = lang
	}
}

// WithPageDelay sets the wait before requesting a follow-up page.
func WithPageDelay(d time.Duration) Option {
	return func(c *httpClient) {
		c.pageDelay = d
	}
}

// WithMaxPages caps how many result pages a search may request.
func WithMaxPages(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithLimiter throttles every outbound request through w.
func WithLimiter(w Waiter) Option {
	return func(c *httpClient) {
		c.limiter = w
	}
}

type httpClient struct {
	baseURL   string
	language  string
	pageDelay time.Duration
	maxPages  int
	http      *http.Client
	limiter   Waiter
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Places API client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:   defaultBaseURL,
		language:  defaultLanguage,
		pageDelay: defaultPageDelay,
		maxPages:  defaultMaxPages,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		sleep: sleepContext,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, query, apiKey string, limit int) iter.Seq2[Summary, error] {
	return func(yield func(Summary, error) bool) {
		if limit <= 0 {
			return
		}
		emitted := 0
		token := ""
		for page := 1; page <= c.maxPages; page++ {
			if page > 1 {
				if err := c.sleep(ctx, c.pageDelay); err != nil {
					yield(Summary{}, c.transportError(EndpointSearch, err))
					return
				}
			}
			resp, err := c.searchPage(ctx, query, apiKey, token)
			if err != nil {
				yield(Summary{}, err)
				return
			}
			for _, r := range resp.Results {
				if r.PlaceID.v == nil {
					continue
				}
				s := Summary{
					PlaceID:          *r.PlaceID.v,
					Name:             r.Name.v,
					FormattedAddress: r.FormattedAddress.v,
					Rating:           r.Rating.v,
				}
				if !yield(s, nil) {
					return
				}
				emitted++
				if emitted >= limit {
					return
				}
			}
			token = resp.NextPageToken
			if token == "" {
				return
			}
		}
	}
}

// searchPage fetches one page. A fresh page token is often rejected with
// INVALID_REQUEST until it activates, so token requests are retried.
func (c *httpClient) searchPage(ctx context.Context, query, apiKey, token string) (searchResponse, error) {
	params := url.Values{}
	params.Set("key", apiKey)
	params.Set("language", c.language)
	if token != "" {
		params.Set("pagetoken", token)
	} else {
		params.Set("query", query)
	}
	endpoint := c.baseURL + "/textsearch/json?" + params.Encode()

	for attempt := 0; ; attempt++ {
		var resp searchResponse
		if err := c.getJSON(ctx, EndpointSearch, endpoint, &resp); err != nil {
			return searchResponse{}, err
		}
		switch resp.Status {
		case "OK", "ZERO_RESULTS":
			return resp, nil
		case "INVALID_REQUEST":
			if token != "" && attempt < pageTokenRetries {
				if err := c.sleep(ctx, c.pageDelay); err != nil {
					return searchResponse{}, c.transportError(EndpointSearch, err)
				}
				continue
			}
		}
		return searchResponse{}, c.statusError(EndpointSearch, resp.apiStatus)
	}
}

func (c *httpClient) Details(ctx context.Context, placeID, apiKey string) (Detail, error) {
	params := url.Values{}
	params.Set("place_id", placeID)
	params.Set("key", apiKey)
	params.Set("language", c.language)
	params.Set("fields", detailFields)
	endpoint := c.baseURL + "/details/json?" + params.Encode()

	var resp detailResponse
	if err := c.getJSON(ctx, EndpointDetail, endpoint, &resp); err != nil {
		return Detail{}, err
	}
	if resp.Status != "OK" {
		return Detail{}, c.statusError(EndpointDetail, resp.apiStatus)
	}
	r := resp.Result
	return Detail{
		Name:                     r.Name.v,
		FormattedAddress:         r.FormattedAddress.v,
		Phone:                    r.FormattedPhoneNumber.v,
		InternationalPhoneNumber: r.InternationalPhoneNumber.v,
		Website:                  r.Website.v,
		Rating:                   r.Rating.v,
	}, nil
}

func (c *httpClient) getJSON(ctx context.Context, endpointName, endpoint string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, endpoint); err != nil {
			return c.transportError(endpointName, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return eris.Wrap(redactKey(err), "places: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(endpointName, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.transportError(endpointName, err)
	}
	if resp.StatusCode != http.StatusOK {
		upstream := &UpstreamError{
			Endpoint:   endpointName,
			Kind:       classifyHTTP(resp.StatusCode),
			HTTPStatus: resp.StatusCode,
		}
		var status apiStatus
		if json.Unmarshal(body, &status) == nil && status.Status != "" {
			upstream.Kind = classifyStatus(status.Status, status.ErrorMessage)
			upstream.Status = status.Status
			upstream.Message = status.ErrorMessage
		}
		return upstream
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &UpstreamError{
			Endpoint:   endpointName,
			Kind:       KindUnknown,
			HTTPStatus: resp.StatusCode,
			Err:        eris.Wrap(err, "places: unmarshal response"),
		}
	}
	return nil
}

func (c *httpClient) statusError(endpointName string, status apiStatus) error {
	return &UpstreamError{
		Endpoint:   endpointName,
		Kind:       classifyStatus(status.Status, status.ErrorMessage),
		HTTPStatus: http.StatusOK,
		Status:     status.Status,
		Message:    status.ErrorMessage,
	}
}

func (c *httpClient) transportError(endpointName string, err error) error {
	return &UpstreamError{
		Endpoint: endpointName,
		Kind:     KindUnavailable,
		Err:      fmt.Errorf("places: %s request: %w", endpointName, redactKey(err)),
	}
}

// redactKey masks the key query parameter in a *url.Error so the caller's
// API key never reaches error text. The copy keeps Timeout and Unwrap.
func redactKey(err error) error {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err
	}
	masked := *ue
	masked.URL = redactURL(ue.URL)
	if masked.URL == ue.URL {
		return err
	}
	return &masked
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}
	q := u.Query()
	if !q.Has("key") {
		return raw
	}
	q.Set("key", "REDACTED")
	u.RawQuery = q.Encode()
	return u.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
