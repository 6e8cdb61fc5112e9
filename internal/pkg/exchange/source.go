package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"course_market/pkg/apperr"

	"github.com/shopspring/decimal"
)

var ErrSourceUnavailable = apperr.New(apperr.KindExternalProvider, "exchange rate source unavailable")

// HTTPSource 请求 {sourceURL}?base=VND，响应 {"base":"VND","rates":{"USD":"0.0000393"}}
type HTTPSource struct {
	sourceURL  string
	httpClient *http.Client
}

func NewHTTPSource(sourceURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSource{
		sourceURL:  sourceURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) Fetch(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	u, err := url.Parse(s.sourceURL)
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}
	q := u.Query()
	q.Set("base", base)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, ErrSourceUnavailable.Wrap(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, ErrSourceUnavailable.Wrap(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ErrSourceUnavailable.Wrap(fmt.Errorf("status %d", resp.StatusCode))
	}

	var result struct {
		Base  string                     `json:"base"`
		Rates map[string]decimal.Decimal `json:"rates"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, ErrSourceUnavailable.Wrap(fmt.Errorf("unmarshal response: %w", err))
	}
	if result.Base != "" && result.Base != base {
		return nil, ErrSourceUnavailable.Wrap(fmt.Errorf("source returned base %s, want %s", result.Base, base))
	}
	return result.Rates, nil
}
