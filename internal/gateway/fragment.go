// Package gateway — fragment.go реализует адаптер Fragment (покупка звёзд).
//
// Webhook Fragment приходит JSON'ом: payment_id, stars, amount, status,
// signature. Подпись — HMAC-SHA256 токеном бота от пар "ключ=значение",
// отсортированных по ключу и склеенных через "|".
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// KeyFragment — значение payment_system для Fragment.
const KeyFragment = "fragment"

// Fragment — адаптер покупки звёзд через Fragment.
type Fragment struct {
	botToken string // ключ HMAC
	baseURL  string
}

// NewFragment создаёт адаптер Fragment.
func NewFragment(botToken, baseURL string) *Fragment {
	if baseURL == "" {
		baseURL = "https://fragment.com/pay"
	}
	return &Fragment{botToken: botToken, baseURL: baseURL}
}

func (f *Fragment) Key() string { return KeyFragment }

// signPayload — HMAC-SHA256 от канонической строки полей.
// Поле signature в строку не входит.
func (f *Fragment) signPayload(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+fields[k])
	}

	mac := hmac.New(sha256.New, []byte(f.botToken))
	mac.Write([]byte(strings.Join(pairs, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}

// BuildPaymentURL собирает ссылку на оплату звёзд.
func (f *Fragment) BuildPaymentURL(p PaymentParams) (string, error) {
	if f.botToken == "" {
		return "", fmt.Errorf("fragment: токен бота не настроен")
	}
	var sb strings.Builder
	sb.WriteString(f.baseURL)
	sb.WriteString("?stars=" + fmt.Sprintf("%d", p.Stars))
	sb.WriteString("&amount=" + url.QueryEscape(p.Amount.StringFixed(2)))
	sb.WriteString("&invoice=" + url.QueryEscape(p.InvoiceID))
	return sb.String(), nil
}

// VerifyWebhook проверяет HMAC-подпись уведомления.
func (f *Fragment) VerifyWebhook(fields map[string]string, sourceIP string) bool {
	sign := fields["signature"]
	if sign == "" {
		log.Warn("Fragment webhook без подписи")
		return false
	}
	expected := f.signPayload(fields)
	return hmac.Equal([]byte(strings.ToLower(sign)), []byte(expected))
}

// ParseNotification извлекает invoice id, сумму и статус платежа.
// Fragment, в отличие от карточных шлюзов, присылает и неуспешные
// исходы (failed/cancelled).
func (f *Fragment) ParseNotification(fields map[string]string) (*Notification, error) {
	amount, err := decimal.NewFromString(fields["amount"])
	if err != nil {
		return nil, fmt.Errorf("fragment: некорректная сумма %q: %w", fields["amount"], err)
	}
	return &Notification{
		InvoiceID: fields["payment_id"],
		Amount:    amount,
		Status:    fields["status"],
	}, nil
}

// CheckStatus — Fragment не даёт API статуса заказа, полагаемся на webhook.
func (f *Fragment) CheckStatus(ctx context.Context, invoiceID string) (Status, error) {
	return StatusPending, fmt.Errorf("fragment: опрос статуса не поддерживается")
}

// Ack — Fragment принимает JSON-подтверждение.
func (f *Fragment) Ack() (string, string) {
	return "application/json", `{"status":"OK"}`
}
