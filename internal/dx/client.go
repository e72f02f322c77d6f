package dx

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Client talks to the exchange service REST API. It never retries; callers
// re-attempt on their next trigger.
type Client struct {
	http *resty.Client
	log  *zap.Logger
}

type priceResponse struct {
	Price decimal.NullDecimal `json:"price"`
}

type sellVolumeResponse struct {
	SellVolume decimal.Decimal `json:"sellVolume"`
}

type sellRequest struct {
	SellToken string          `json:"sellToken"`
	BuyToken  string          `json:"buyToken"`
	Amount    decimal.Decimal `json:"amount"`
	ClientID  string          `json:"clientId"`
}

type sellResponse struct {
	TxHash string `json:"txHash"`
}

type apiError struct {
	Message string `json:"message"`
}

func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "dx-bots")
	return &Client{http: client, log: log}
}

// Price returns how many units of b one unit of a is worth.
func (c *Client) Price(ctx context.Context, a, b string) (decimal.Decimal, error) {
	var out priceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("market", a+"-"+b).
		SetResult(&out).
		SetError(&apiError{}).
		Get("/api/v1/markets/{market}/price")
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: price %s-%s: %v", ErrRead, a, b, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return decimal.Zero, fmt.Errorf("%w: %s-%s", ErrPriceUnavailable, a, b)
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("%w: price %s-%s: %s", ErrRead, a, b, describe(resp))
	}
	if !out.Price.Valid || !out.Price.Decimal.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s-%s", ErrPriceUnavailable, a, b)
	}
	return out.Price.Decimal, nil
}

// SellVolume returns the amount of sell posted in the current auction of
// the sell->buy direction.
func (c *Client) SellVolume(ctx context.Context, sell, buy string) (decimal.Decimal, error) {
	var out sellVolumeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("market", sell+"-"+buy).
		SetResult(&out).
		SetError(&apiError{}).
		Get("/api/v1/markets/{market}/sell-volume")
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: sell volume %s-%s: %v", ErrRead, sell, buy, err)
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("%w: sell volume %s-%s: %s", ErrRead, sell, buy, describe(resp))
	}
	if out.SellVolume.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative sell volume %s for %s-%s", ErrRead, out.SellVolume, sell, buy)
	}
	return out.SellVolume, nil
}

// Sell posts amount of sellToken into the sellToken->buyToken auction on
// behalf of account and returns the transaction hash.
func (c *Client) Sell(ctx context.Context, account, sellToken, buyToken string, amount decimal.Decimal, clientID string) (string, error) {
	var out sellResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("account", account).
		SetBody(sellRequest{SellToken: sellToken, BuyToken: buyToken, Amount: amount, ClientID: clientID}).
		SetResult(&out).
		SetError(&apiError{}).
		Post("/api/v1/accounts/{account}/sell")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmit, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: %s", ErrSubmit, describe(resp))
	}
	if strings.TrimSpace(out.TxHash) == "" {
		return "", fmt.Errorf("%w: empty transaction hash", ErrSubmit)
	}
	c.log.Debug("sell submitted",
		zap.String("account", account),
		zap.String("sell_token", sellToken),
		zap.String("buy_token", buyToken),
		zap.String("amount", amount.String()),
		zap.String("tx_hash", out.TxHash),
	)
	return out.TxHash, nil
}

func describe(resp *resty.Response) string {
	if e, ok := resp.Error().(*apiError); ok && e.Message != "" {
		return fmt.Sprintf("http %d: %s", resp.StatusCode(), e.Message)
	}
	body := strings.TrimSpace(resp.String())
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Sprintf("http %d: %s", resp.StatusCode(), body)
}
