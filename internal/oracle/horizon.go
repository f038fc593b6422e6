package oracle

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/robertarktes/lumentix-tickets/internal/domain"
	"github.com/robertarktes/lumentix-tickets/internal/observability"
)

const maxBodyBytes = 1 << 20

// HorizonClient reads transactions from a Horizon server.
type HorizonClient struct {
	baseURL string
	client  *http.Client
}

func NewHorizonClient(baseURL string, timeout time.Duration) *HorizonClient {
	return &HorizonClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (h *HorizonClient) GetTransaction(ctx context.Context, hash string) (*Transaction, error) {
	if hash == "" {
		return nil, errors.Wrap(domain.ErrInvalidState, "empty transaction hash")
	}
	start := time.Now()
	defer func() {
		observability.OracleDuration.WithLabelValues("horizon").Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/transactions/"+url.PathEscape(hash), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build horizon request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, domain.Upstream(err, "horizon request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, domain.Upstream(err, "read horizon response")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.Wrapf(ErrTransactionNotFound, "hash %s", hash)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errors.Mark(errors.Newf("horizon returned %d", resp.StatusCode), domain.ErrUpstream)
	default:
		return nil, errors.Wrapf(domain.ErrInvalidState, "horizon rejected hash %s with %d", hash, resp.StatusCode)
	}

	var tx Transaction
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, domain.Upstream(err, "decode horizon transaction")
	}
	return &tx, nil
}
