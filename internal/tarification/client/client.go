// Package client sends tariffication requests to the pricing provider.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"loan_broker_backend/internal/tarification/wire"
	"loan_broker_backend/platform/config"
	"loan_broker_backend/platform/logger"
)

const maxResponseBytes = 8 << 20

// ErrResponseTooLarge is wrapped when the provider answer exceeds maxResponseBytes.
var ErrResponseTooLarge = fmt.Errorf("response larger than %d bytes", maxResponseBytes)

// Credentials identify a broker and optionally override the endpoints.
type Credentials struct {
	wire.Credentials
	StagingURL    string
	ProductionURL string
}

// Options tune a single call.
type Options struct {
	CommissionCode string
	TargetTariffID string
	BrokerFeeMinor *int64
	UseProduction  bool
}

// Result is a decoded answer along with the raw exchange.
type Result struct {
	*wire.Response
	Endpoint     string
	Production   bool
	RequestBody  []byte
	ResponseBody []byte
}

// NoUsableTariffs reports an answer that carried no tariff with an id.
func NoUsableTariffs(r *Result) bool {
	return r == nil || r.Response == nil || len(r.Tariffs) == 0
}

// Quoter prices a profile against the provider.
type Quoter interface {
	Quote(ctx context.Context, profile wire.Profile, creds Credentials, opts Options) (*Result, error)
}

// Client performs exactly one POST per Quote call and never retries.
type Client struct {
	httpClient    *http.Client
	limiter       *rate.Limiter
	stagingURL    string
	productionURL string
	soapAction    string
	log           *logger.Logger
}

// New creates a provider client from configuration.
func New(cfg config.PricingConfig, log *logger.Logger) *Client {
	limit := rate.Inf
	if cfg.GetPricingRateLimit() > 0 {
		limit = rate.Limit(cfg.GetPricingRateLimit())
	}
	burst := cfg.GetPricingBurst()
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		httpClient:    &http.Client{Timeout: cfg.GetPricingTimeout()},
		limiter:       rate.NewLimiter(limit, burst),
		stagingURL:    cfg.GetPricingStagingURL(),
		productionURL: cfg.GetPricingProductionURL(),
		soapAction:    cfg.GetPricingSOAPAction(),
		log:           log,
	}
}

// Endpoint returns the URL a call with these credentials would hit.
func (c *Client) Endpoint(creds Credentials, production bool) string {
	if production {
		if creds.ProductionURL != "" {
			return creds.ProductionURL
		}
		return c.productionURL
	}
	if creds.StagingURL != "" {
		return creds.StagingURL
	}
	return c.stagingURL
}

// Quote encodes the profile, posts it and decodes the answer. An answer
// without usable tariffs is returned as a Result with an empty list.
func (c *Client) Quote(ctx context.Context, profile wire.Profile, creds Credentials, opts Options) (*Result, error) {
	msg, err := wire.Encode(profile, creds.Credentials, wire.EncodeOptions{
		CommissionCode: opts.CommissionCode,
		TargetTariffID: opts.TargetTariffID,
		BrokerFeeMinor: opts.BrokerFeeMinor,
	})
	if err != nil {
		return nil, err
	}

	log := c.log.WithContext(ctx)
	for _, fb := range msg.Fallbacks {
		log.FallbackApplied(fb.Field, fb.Value)
	}
	for _, notice := range msg.Notices {
		log.Warn("wire_notice", "notice", notice)
	}

	endpoint := c.Endpoint(creds, opts.UseProduction)
	result := &Result{Endpoint: endpoint, Production: opts.UseProduction, RequestBody: msg.Body}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.fail(log, result, &PricingError{Kind: KindTransport, Err: fmt.Errorf("throttle wait: %w", err)})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(msg.Body))
	if err != nil {
		return nil, c.fail(log, result, &PricingError{Kind: KindTransport, Err: fmt.Errorf("create request: %w", err)})
	}
	req.Header.Set("Content-Type", "text/xml;charset=utf-8")
	req.Header.Set("Accept", "text/xml")
	req.Header.Set("SOAPAction", c.soapAction)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.fail(log, result, &PricingError{Kind: KindTransport, Err: fmt.Errorf("http request: %w", err)})
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if errors.Is(err, ErrResponseTooLarge) {
		return nil, c.fail(log, result, &PricingError{Kind: KindMalformedResponse, Status: resp.StatusCode, Err: err})
	}
	if err != nil {
		return nil, c.fail(log, result, &PricingError{Kind: KindTransport, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)})
	}
	result.ResponseBody = body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := fmt.Errorf("unexpected status %d", resp.StatusCode)
		if decoded, decErr := wire.Decode(body); decErr == nil && decoded.Fault != "" {
			reason = errors.New(decoded.Fault)
		}
		return nil, c.fail(log, result, &PricingError{Kind: KindProviderRejected, Status: resp.StatusCode, Err: reason})
	}

	decoded, err := wire.Decode(body)
	if err != nil {
		return nil, c.fail(log, result, &PricingError{Kind: KindMalformedResponse, Status: resp.StatusCode, Err: err})
	}
	if decoded.Fault != "" && len(decoded.Tariffs) == 0 {
		return nil, c.fail(log, result, &PricingError{Kind: KindProviderRejected, Status: resp.StatusCode, Err: errors.New(decoded.Fault)})
	}

	decoded.ApplyDuration(profile.Loan.DurationMonths)
	result.Response = decoded
	log.ProviderCall(endpoint, opts.UseProduction, resp.StatusCode, len(decoded.Tariffs), time.Since(start))
	return result, nil
}

func (c *Client) fail(log *logger.Logger, result *Result, err *PricingError) error {
	log.ProviderError(result.Endpoint, result.Production, err.Kind.String(), err)
	return err
}

// readBody converts legacy charsets announced in Content-Type (or sniffed)
// to UTF-8 before decoding.
func readBody(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if len(raw) > maxResponseBytes {
		return nil, ErrResponseTooLarge
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.Contains(strings.ToLower(contentType), "utf-8") {
		return raw, nil
	}
	reader, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(reader)
}

var _ Quoter = (*Client)(nil)
