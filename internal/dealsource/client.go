package dealsource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentworkforce/dealsync/internal/deals"
)

const (
	DefaultEndpoint  = "https://www.lesegais.ru/open-area/graphql"
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/104.0.0.0 Safari/537.36"
	DefaultPageSize = 20

	maxErrorBodyBytes = 512
)

const countQuery = `query SearchReportWoodDealCount($size: Int!, $number: Int!, $filter: Filter, $orders: [Order!]) {
  searchReportWoodDeal(filter: $filter, pageable: {number: $number, size: $size}, orders: $orders) {
    total
  }
}`

const pageQuery = `query SearchReportWoodDeal($size: Int!, $number: Int!, $filter: Filter, $orders: [Order!]) {
  searchReportWoodDeal(filter: $filter, pageable: {number: $number, size: $size}, orders: $orders) {
    content {
      sellerName
      sellerInn
      buyerName
      buyerInn
      woodVolumeBuyer
      woodVolumeSeller
      dealDate
      dealNumber
    }
  }
}`

type ClientOptions struct {
	Endpoint   string
	HTTPClient *http.Client
	UserAgent  string
	// RequestsPerSecond paces outgoing requests; zero disables pacing.
	RequestsPerSecond float64
}

// Client talks to the searchReportWoodDeal GraphQL query. It never retries;
// retry policy belongs to the caller.
type Client struct {
	endpoint   string
	httpClient *http.Client
	userAgent  string
	limiter    *rate.Limiter
	schemas    *responseSchemas
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type countResponse struct {
	Data struct {
		SearchReportWoodDeal struct {
			Total int `json:"total"`
		} `json:"searchReportWoodDeal"`
	} `json:"data"`
}

type pageResponse struct {
	Data struct {
		SearchReportWoodDeal struct {
			Content []deals.RawDeal `json:"content"`
		} `json:"searchReportWoodDeal"`
	} `json:"data"`
}

func NewClient(opts ClientOptions) (*Client, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	schemas, err := compileResponseSchemas()
	if err != nil {
		return nil, err
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: httpClient,
		userAgent:  userAgent,
		limiter:    limiter,
		schemas:    schemas,
	}, nil
}

// TotalCount returns the number of records available under the unfiltered query.
func (c *Client) TotalCount(ctx context.Context) (int, error) {
	const op = "count deals"
	payload, err := c.post(ctx, op, graphQLRequest{
		Query:     countQuery,
		Variables: pageVariables(1, 0),
	})
	if err != nil {
		return 0, err
	}
	if err := validatePayload(c.schemas.count, payload); err != nil {
		return 0, &deals.ProtocolError{Op: op, Err: err}
	}
	var out countResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return 0, &deals.ProtocolError{Op: op, Err: err}
	}
	return out.Data.SearchReportWoodDeal.Total, nil
}

// FetchPage returns the zero-indexed page of up to pageSize records.
func (c *Client) FetchPage(ctx context.Context, pageSize, pageIndex int) ([]deals.RawDeal, error) {
	if pageSize <= 0 || pageIndex < 0 {
		return nil, fmt.Errorf("%w: page size %d, page index %d", deals.ErrInvalidInput, pageSize, pageIndex)
	}
	op := fmt.Sprintf("fetch deals page %d", pageIndex)
	payload, err := c.post(ctx, op, graphQLRequest{
		Query:     pageQuery,
		Variables: pageVariables(pageSize, pageIndex),
	})
	if err != nil {
		return nil, err
	}
	if err := validatePayload(c.schemas.page, payload); err != nil {
		return nil, &deals.ProtocolError{Op: op, Err: err}
	}
	var out pageResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &deals.ProtocolError{Op: op, Err: err}
	}
	return out.Data.SearchReportWoodDeal.Content, nil
}

func pageVariables(size, number int) map[string]any {
	return map[string]any{
		"size":   size,
		"number": number,
		"filter": nil,
		"orders": nil,
	}
}

func (c *Client) post(ctx context.Context, op string, body graphQLRequest) ([]byte, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &deals.TransportError{Op: op, Err: err}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, &deals.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &deals.TransportError{Op: op, Err: err}
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, &deals.TransportError{Op: op, Err: readErr}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &deals.TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        errors.New(truncateBody(payload)),
		}
	}

	var envelope struct {
		Errors []graphQLError `json:"errors"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, &deals.ProtocolError{Op: op, Err: err}
	}
	if len(envelope.Errors) > 0 {
		messages := make([]string, 0, len(envelope.Errors))
		for _, gqlErr := range envelope.Errors {
			messages = append(messages, gqlErr.Message)
		}
		return nil, &deals.ProtocolError{Op: op, Err: fmt.Errorf("graphql errors: %s", strings.Join(messages, "; "))}
	}
	return payload, nil
}

func truncateBody(payload []byte) string {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return "empty response body"
	}
	if len(text) > maxErrorBodyBytes {
		return text[:maxErrorBodyBytes] + "..."
	}
	return text
}
