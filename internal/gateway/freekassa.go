// Package gateway — freekassa.go реализует адаптер FreeKassa (карты, СБП).
//
// Схемы подписи FreeKassa:
//   - ссылка на оплату (SCI): md5("shop:amount:secret1:currency:order")
//   - webhook: md5("merchant:amount:secret2:order")
//   - API-запросы: HMAC-SHA256 от значений полей, отсортированных
//     по ключу и склеенных через "|"
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// KeyFreekassa — значение payment_system для FreeKassa.
const KeyFreekassa = "freekassa"

// freekassaAllowedIPs — опубликованный FreeKassa список IP,
// с которых приходят webhook'и.
var freekassaAllowedIPs = map[string]bool{
	"168.119.157.136": true,
	"168.119.60.227":  true,
	"178.154.197.79":  true,
	"51.250.54.238":   true,
}

// FreeKassa — адаптер платёжной системы FreeKassa.
type FreeKassa struct {
	shopID      string
	secretWord1 string // для формирования ссылок
	secretWord2 string // для проверки webhook'ов
	apiKey      string // для API-запросов (статус заказа)
	strictIP    bool   // true — webhook с чужого IP отклоняется, а не логируется

	paymentURL string
	apiURL     string
	client     *http.Client
}

// NewFreeKassa создаёт адаптер FreeKassa.
func NewFreeKassa(shopID, secretWord1, secretWord2, apiKey string, strictIP bool) *FreeKassa {
	return &FreeKassa{
		shopID:      shopID,
		secretWord1: secretWord1,
		secretWord2: secretWord2,
		apiKey:      apiKey,
		strictIP:    strictIP,
		paymentURL:  "https://pay.fk.money/",
		apiURL:      "https://api.fk.life/v1/",
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (f *FreeKassa) Key() string { return KeyFreekassa }

// sciSignature — подпись формы оплаты (SCI).
func (f *FreeKassa) sciSignature(amount, currency, orderID string) string {
	s := fmt.Sprintf("%s:%s:%s:%s:%s", f.shopID, amount, f.secretWord1, currency, orderID)
	return md5hex(s)
}

// webhookSignature — подпись уведомления об оплате.
func (f *FreeKassa) webhookSignature(merchantID, amount, orderID string) string {
	s := fmt.Sprintf("%s:%s:%s:%s", merchantID, amount, f.secretWord2, orderID)
	return md5hex(s)
}

// apiSignature — HMAC-SHA256 для API-запросов: значения полей,
// отсортированных по имени ключа, склеенные через "|".
func (f *FreeKassa) apiSignature(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]string, 0, len(keys))
	for _, k := range keys {
		values = append(values, fields[k])
	}

	mac := hmac.New(sha256.New, []byte(f.apiKey))
	mac.Write([]byte(strings.Join(values, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}

// BuildPaymentURL собирает ссылку на страницу оплаты.
// Порядок и имена параметров — контракт FreeKassa: m, oa, o, s, currency,
// lang, затем опциональные email и desc.
func (f *FreeKassa) BuildPaymentURL(p PaymentParams) (string, error) {
	if f.shopID == "" || f.secretWord1 == "" {
		return "", fmt.Errorf("freekassa: не настроены shop_id/secret_word1")
	}

	amount := p.Amount.StringFixed(2)
	sign := f.sciSignature(amount, p.Currency, p.InvoiceID)

	var sb strings.Builder
	sb.WriteString(f.paymentURL)
	sb.WriteString("?m=" + url.QueryEscape(f.shopID))
	sb.WriteString("&oa=" + url.QueryEscape(amount))
	sb.WriteString("&o=" + url.QueryEscape(p.InvoiceID))
	sb.WriteString("&s=" + url.QueryEscape(sign))
	sb.WriteString("&currency=" + url.QueryEscape(p.Currency))
	sb.WriteString("&lang=ru")
	if p.Email != "" {
		sb.WriteString("&email=" + url.QueryEscape(p.Email))
	}
	if p.Description != "" {
		desc := p.Description
		if len(desc) > 255 {
			desc = desc[:255]
		}
		sb.WriteString("&desc=" + url.QueryEscape(desc))
	}
	return sb.String(), nil
}

// VerifyWebhook проверяет подпись и отправителя уведомления.
// Несовпадение IP по умолчанию только логируется (мягкая политика);
// при strictIP=true webhook с чужого адреса отклоняется.
func (f *FreeKassa) VerifyWebhook(fields map[string]string, sourceIP string) bool {
	if sourceIP != "" && !freekassaAllowedIPs[sourceIP] {
		log.WithField("ip", sourceIP).Warn("FreeKassa webhook с адреса вне белого списка")
		if f.strictIP {
			return false
		}
	}

	merchantID := fields["MERCHANT_ID"]
	amount := fields["AMOUNT"]
	orderID := fields["MERCHANT_ORDER_ID"]
	sign := strings.ToLower(fields["SIGN"])

	if merchantID == "" || amount == "" || orderID == "" || sign == "" {
		log.Warn("FreeKassa webhook без обязательных полей")
		return false
	}
	if merchantID != f.shopID {
		log.WithField("merchant_id", merchantID).Warn("FreeKassa webhook с чужим merchant_id")
		return false
	}

	expected := f.webhookSignature(merchantID, amount, orderID)
	return hmac.Equal([]byte(sign), []byte(expected))
}

// ParseNotification извлекает invoice id и заявленную сумму.
func (f *FreeKassa) ParseNotification(fields map[string]string) (*Notification, error) {
	amount, err := decimal.NewFromString(fields["AMOUNT"])
	if err != nil {
		return nil, fmt.Errorf("freekassa: некорректная сумма %q: %w", fields["AMOUNT"], err)
	}
	return &Notification{
		InvoiceID: fields["MERCHANT_ORDER_ID"],
		Amount:    amount,
	}, nil
}

// CheckStatus опрашивает API FreeKassa о состоянии заказа.
func (f *FreeKassa) CheckStatus(ctx context.Context, invoiceID string) (Status, error) {
	if f.apiKey == "" {
		return StatusPending, fmt.Errorf("freekassa: api_key не настроен")
	}

	nonce := fmt.Sprintf("%d", time.Now().Unix())
	sign := f.apiSignature(map[string]string{
		"shopId":    f.shopID,
		"nonce":     nonce,
		"paymentId": invoiceID,
	})

	body, err := json.Marshal(map[string]string{
		"shopId":    f.shopID,
		"nonce":     nonce,
		"paymentId": invoiceID,
		"signature": sign,
	})
	if err != nil {
		return StatusPending, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.apiURL+"orders", bytes.NewReader(body))
	if err != nil {
		return StatusPending, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return StatusPending, fmt.Errorf("freekassa: запрос статуса не удался: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StatusPending, fmt.Errorf("freekassa: статус-код %d", resp.StatusCode)
	}

	var result struct {
		Type   string `json:"type"`
		Orders []struct {
			Status int `json:"status"`
		} `json:"orders"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return StatusPending, fmt.Errorf("freekassa: некорректный ответ API: %w", err)
	}
	if result.Type != "success" || len(result.Orders) == 0 {
		return StatusPending, nil
	}

	switch result.Orders[0].Status {
	case 1:
		return StatusPaid, nil
	case 2, 8, 9: // отменён, ошибка, просрочен
		return StatusCancelled, nil
	default:
		return StatusPending, nil
	}
}

// Ack — FreeKassa ждёт literal-ответ "YES".
func (f *FreeKassa) Ack() (string, string) {
	return "text/plain; charset=utf-8", "YES"
}

// md5hex возвращает md5-хеш строки в hex.
func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
