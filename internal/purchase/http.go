package purchase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"snipebot/internal/catalog"
	"snipebot/pkg/logx"
)

// HTTPConfig points the order client at the upstream order endpoint.
type HTTPConfig struct {
	OrderURL string
	APIKey   string
	Timeout  time.Duration
}

// HTTPProvider places orders through the upstream REST API. A 4xx answer
// is permanent (the request itself is wrong); everything else is left
// retryable.
type HTTPProvider struct {
	cfg    HTTPConfig
	client *http.Client
	log    logx.Logger
}

func NewHTTPProvider(cfg HTTPConfig, log logx.Logger) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

func (p *HTTPProvider) AttemptPurchase(ctx context.Context, intent catalog.PurchaseIntent) (Result, error) {
	payload, err := json.Marshal(map[string]any{
		"planCode":   intent.PlanCode,
		"datacenter": intent.Datacenter,
		"options":    intent.Options,
		"quantity":   1,
	})
	if err != nil {
		return Result{}, Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.OrderURL, bytes.NewReader(payload))
	if err != nil {
		return Result{}, Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	var body struct {
		OrderID      string  `json:"orderId"`
		OrderURL     string  `json:"url"`
		PriceWithTax float64 `json:"priceWithTax"`
		Currency     string  `json:"currency"`
		Message      string  `json:"message"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)

	switch {
	case resp.StatusCode/100 == 2:
		return Result{
			OrderID:      body.OrderID,
			OrderURL:     body.OrderURL,
			PriceWithTax: body.PriceWithTax,
			Currency:     body.Currency,
		}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{}, fmt.Errorf("order rate limited (429)")
	case resp.StatusCode/100 == 4:
		msg := body.Message
		if msg == "" {
			msg = fmt.Sprintf("order rejected (%d)", resp.StatusCode)
		}
		return Result{}, Permanent(fmt.Errorf("%s", msg))
	default:
		return Result{}, fmt.Errorf("order endpoint status %d", resp.StatusCode)
	}
}
