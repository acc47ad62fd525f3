package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

type Config struct {
	BaseURL           string
	Address           string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Client — read-only клиент Hyperliquid /info.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	address string

	metaMu     sync.Mutex
	szDecimals map[string]int32
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("Content-Type", "application/json")

	return &Client{
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		address: cfg.Address,
	}
}

func (c *Client) Address() string { return c.address }

// info — POST /info с лимитом запросов. Возвращает распарсенный ответ.
func (c *Client) info(ctx context.Context, body any) (res gjson.Result, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Client.info: %w", err)
		}
	}()

	if err = c.limiter.Wait(ctx); err != nil {
		return res, err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/info")
	if err != nil {
		return res, err
	}
	if resp.StatusCode() != 200 {
		return res, fmt.Errorf("http %d: %s", resp.StatusCode(), resp.String())
	}
	if !gjson.ValidBytes(resp.Body()) {
		return res, fmt.Errorf("invalid json response (%d bytes)", len(resp.Body()))
	}
	return gjson.ParseBytes(resp.Body()), nil
}
