// Package oracle provides the external price quote used to derive the burn
// flush slippage floor.
package oracle

import (
	"context"
	"fmt"
	"time"

	fpmath "CurveDesk/internal/math"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// PriceQuoter returns the price of one base unit of `base` denominated in
// `quote`, price-scaled (×1e6). Configuring a quoter on the accumulator is
// optional; without one the flush runs without a slippage floor.
type PriceQuoter interface {
	QuotePrice(ctx context.Context, base, quote string) (int64, error)
}

// HTTPQuoter fetches prices from a JSON price API:
//
//	GET {baseURL}/v1/price?base=ETH&quote=EMBER
//	{"base":"ETH","quote":"EMBER","price":"1234.567890"}
type HTTPQuoter struct {
	client *resty.Client
}

type priceResponse struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
	Price string `json:"price"`
}

func NewHTTPQuoter(baseURL string, timeout time.Duration) *HTTPQuoter {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(100 * time.Millisecond)

	return &HTTPQuoter{client: client}
}

func (q *HTTPQuoter) QuotePrice(ctx context.Context, base, quote string) (int64, error) {
	var out priceResponse

	resp, err := q.client.R().
		SetContext(ctx).
		SetQueryParam("base", base).
		SetQueryParam("quote", quote).
		SetResult(&out).
		Get("/v1/price")
	if err != nil {
		return 0, fmt.Errorf("oracle request: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("oracle status %d", resp.StatusCode())
	}

	price, err := decimal.NewFromString(out.Price)
	if err != nil {
		return 0, fmt.Errorf("oracle price %q: %w", out.Price, err)
	}
	if price.Sign() <= 0 {
		return 0, fmt.Errorf("oracle price non-positive: %s", out.Price)
	}

	scaled := price.Mul(decimal.NewFromInt(fpmath.PriceConfig.Scale)).Floor()
	if scaled.BigInt().BitLen() > 62 {
		return 0, fmt.Errorf("oracle price out of range: %s", out.Price)
	}

	return scaled.IntPart(), nil
}
