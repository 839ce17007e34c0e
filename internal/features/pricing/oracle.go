// Package pricing — oracle.go опрашивает внешние источники курсов.
// Оба оракула — обычные HTTP GET, возвращающие одно число в JSON.
// Все запросы идут с явным таймаутом: медленный оракул деградирует
// до fallback-цены и никогда не тормозит приём платежей.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"starshop.ru/stars-shop/internal/common"
)

// Oracle получает рыночный курс TON/USDT и курс USD/RUB.
type Oracle struct {
	client      *http.Client
	tonPriceURL string // тикер TONUSDT (Binance)
	fxRateURL   string // курс USD к рублю (exchangerate-api)
}

// NewOracle создаёт оракул с заданным таймаутом запросов.
func NewOracle(tonPriceURL, fxRateURL string, timeout time.Duration) *Oracle {
	return &Oracle{
		client:      &http.Client{Timeout: timeout},
		tonPriceURL: tonPriceURL,
		fxRateURL:   fxRateURL,
	}
}

// TonUSD возвращает текущий курс TON в долларах.
func (o *Oracle) TonUSD(ctx context.Context) (decimal.Decimal, error) {
	// Ответ Binance: {"symbol":"TONUSDT","price":"5.123"}
	var payload struct {
		Price string `json:"price"`
	}
	if err := o.getJSON(ctx, o.tonPriceURL, &payload); err != nil {
		return decimal.Zero, err
	}
	price, err := decimal.NewFromString(payload.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: некорректная цена TON %q", common.ErrUpstreamUnavailable, payload.Price)
	}
	return price, nil
}

// UsdRub возвращает текущий курс доллара к рублю.
func (o *Oracle) UsdRub(ctx context.Context) (decimal.Decimal, error) {
	// Ответ exchangerate-api: {"rates":{"RUB":95.5, ...}}
	var payload struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := o.getJSON(ctx, o.fxRateURL, &payload); err != nil {
		return decimal.Zero, err
	}
	rub, ok := payload.Rates["RUB"]
	if !ok || rub <= 0 {
		return decimal.Zero, fmt.Errorf("%w: в ответе нет курса RUB", common.ErrUpstreamUnavailable)
	}
	return decimal.NewFromFloat(rub), nil
}

func (o *Oracle) getJSON(ctx context.Context, url string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("ошибка формирования запроса: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: статус %d от %s", common.ErrUpstreamUnavailable, resp.StatusCode, url)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: некорректный JSON: %v", common.ErrUpstreamUnavailable, err)
	}
	return nil
}
