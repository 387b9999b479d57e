package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"harvester/pkg/config"
	errs "harvester/pkg/errors"
	"harvester/pkg/logger"
	"harvester/pkg/models"
)

const (
	// SearchEndpoint is the gateway path for search queries
	SearchEndpoint = "/search"

	// MaxPageSize is the largest page the gateway serves
	MaxPageSize = 100

	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
)

var _ Fetcher = (*HTTPClient)(nil)

// HTTPClient talks to the search gateway with per-account session cookies
type HTTPClient struct {
	baseURL   string
	lang      string
	timeout   time.Duration
	userAgent string
	headers   map[string]string
	logger    logger.Logger

	mu      sync.Mutex
	clients map[string]*http.Client // keyed by proxy URL, "" for direct
}

// NewClient creates a gateway client from transport config
func NewClient(cfg *config.TransportConfig, log logger.Logger) *HTTPClient {
	if log == nil {
		log = logger.GetLogger()
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &HTTPClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		lang:      cfg.Lang,
		timeout:   cfg.Timeout,
		userAgent: userAgent,
		headers: map[string]string{
			"Accept":          "application/json",
			"Accept-Language": "en-US,en;q=0.9",
			"Cache-Control":   "no-cache",
			"Pragma":          "no-cache",
			"Sec-Fetch-Dest":  "empty",
			"Sec-Fetch-Mode":  "cors",
			"Sec-Fetch-Site":  "same-origin",
		},
		logger:  log.WithField("component", "transport"),
		clients: make(map[string]*http.Client),
	}
}

// SetHeader sets a custom header sent with every request
func (c *HTTPClient) SetHeader(key, value string) {
	c.headers[key] = value
}

// SearchURL builds the gateway URL for one page of a query
func SearchURL(baseURL, query, lang, cursor string, limit int) string {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	if lang != "" {
		query = fmt.Sprintf("%s lang:%s", query, lang)
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(limit))
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	return fmt.Sprintf("%s%s?%s", strings.TrimRight(baseURL, "/"), SearchEndpoint, params.Encode())
}

// FetchPage requests one page of results for query as account
func (c *HTTPClient) FetchPage(ctx context.Context, account *models.Account, query, cursor string, limit int) (*Page, error) {
	target := SearchURL(c.baseURL, query, c.lang, cursor, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeInvalid, err, "failed to create request")
	}
	c.authorize(req, account)

	client, err := c.clientFor(account.Proxy)
	if err != nil {
		return nil, err
	}

	log := c.logger.WithFields(map[string]interface{}{
		"account": account.ID,
		"query":   query,
	})

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.WarnWithFields("HTTP request failed", map[string]interface{}{
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.Wrap(errs.ErrorTypeTransient, err, "network error")
	}
	defer resp.Body.Close()

	log.DebugWithFields("HTTP request completed", map[string]interface{}{
		"status":   resp.StatusCode,
		"duration": duration,
	})

	if err := c.checkResponseStatus(resp, log); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeTransient,
			Message: fmt.Sprintf("failed to read response body: %v", err),
			Code:    resp.StatusCode,
			Err:     err,
		}
	}

	return c.decodePage(body, log)
}

func (c *HTTPClient) authorize(req *http.Request, account *models.Account) {
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	userAgent := c.userAgent
	if account.UserAgent != "" {
		userAgent = account.UserAgent
	}
	req.Header.Set("User-Agent", userAgent)

	req.AddCookie(&http.Cookie{Name: "auth_token", Value: account.AuthToken})
	req.AddCookie(&http.Cookie{Name: "ct0", Value: account.CSRFToken})
	req.Header.Set("x-csrf-token", account.CSRFToken)
}

// clientFor returns the http.Client routing through proxy
func (c *HTTPClient) clientFor(proxy string) (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[proxy]; ok {
		return client, nil
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, errs.Wrap(errs.ErrorTypeInvalid, err, "invalid proxy URL")
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{Transport: transport, Timeout: c.timeout}
	c.clients[proxy] = client
	return client, nil
}

// checkResponseStatus maps the HTTP status onto a classified error
func (c *HTTPClient) checkResponseStatus(resp *http.Response, log logger.Logger) error {
	kind := errs.FromStatusCode(resp.StatusCode)
	fields := map[string]interface{}{"status": resp.StatusCode}

	switch kind {
	case "":
		return nil
	case errs.ErrorTypeRateLimit:
		log.WarnWithFields("rate limit exceeded", fields)
		return errs.RateLimited(resp.StatusCode, "rate limit exceeded")
	case errs.ErrorTypeAuth:
		log.WarnWithFields("authentication rejected", fields)
		return errs.AuthFailure(resp.StatusCode, "session rejected")
	case errs.ErrorTypeTransient:
		log.WarnWithFields("server error", fields)
		return errs.Transient(resp.StatusCode, "server error")
	default:
		log.ErrorWithFields("unexpected API error", fields)
		return &errs.Error{
			Type:    kind,
			Message: fmt.Sprintf("unexpected status code: %d", resp.StatusCode),
			Code:    resp.StatusCode,
		}
	}
}

func (c *HTTPClient) decodePage(body []byte, log logger.Logger) (*Page, error) {
	var response searchResponse
	if err := json.Unmarshal(body, &response); err != nil {
		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200] + "..."
		}
		log.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"error":        err.Error(),
			"body_preview": bodyPreview,
		})
		return nil, errs.Wrap(errs.ErrorTypeTransient, err, "failed to parse JSON")
	}

	page := &Page{
		Posts:      make([]models.RawPost, 0, len(response.Posts)),
		NextCursor: response.NextCursor,
		HasMore:    response.HasMore,
	}
	for _, raw := range response.Posts {
		var w wirePost
		if err := json.Unmarshal(raw, &w); err != nil {
			log.WarnWithFields("skipping malformed post", map[string]interface{}{"error": err.Error()})
			continue
		}
		page.Posts = append(page.Posts, w.toRaw(raw))
	}
	return page, nil
}
