// Package gateway — robokassa.go реализует адаптер Robokassa.
//
// Подписи Robokassa — md5 от полей, склеенных через ":":
//   - ссылка на оплату: md5("login:outsum:invid:password1")
//   - webhook:          md5("outsum:invid:password2")
//   - запрос статуса:   md5("login:invoiceid:password2")
package gateway

import (
	"context"
	"crypto/hmac"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// KeyRobokassa — значение payment_system для Robokassa.
const KeyRobokassa = "robokassa"

// Robokassa — адаптер платёжной системы Robokassa.
type Robokassa struct {
	merchantLogin string
	password1     string // для формирования ссылок
	password2     string // для проверки результата
	testMode      bool

	paymentURL string
	apiURL     string
	client     *http.Client
}

// NewRobokassa создаёт адаптер Robokassa.
func NewRobokassa(merchantLogin, password1, password2 string, testMode bool) *Robokassa {
	r := &Robokassa{
		merchantLogin: merchantLogin,
		password1:     password1,
		password2:     password2,
		testMode:      testMode,
		client:        &http.Client{Timeout: 30 * time.Second},
	}
	if testMode {
		r.paymentURL = "https://auth.robokassa.ru/Merchant/Index.aspx"
		r.apiURL = "https://auth.robokassa.ru/Merchant/WebService/Service.asmx"
	} else {
		r.paymentURL = "https://merchant.roboxchange.com/Index.aspx"
		r.apiURL = "https://merchant.roboxchange.com/WebService/Service.asmx"
	}
	return r
}

func (r *Robokassa) Key() string { return KeyRobokassa }

// signature — md5 от значений, склеенных через ":", в нижнем регистре.
func (r *Robokassa) signature(values ...string) string {
	return md5hex(strings.Join(values, ":"))
}

// BuildPaymentURL собирает ссылку на платёжную страницу.
// Имена параметров — контракт Robokassa: MerchantLogin, OutSum, InvId,
// Description, Culture, SignatureValue (+Email, +IsTest).
func (r *Robokassa) BuildPaymentURL(p PaymentParams) (string, error) {
	if r.merchantLogin == "" || r.password1 == "" {
		return "", fmt.Errorf("robokassa: не настроены merchant_login/password1")
	}

	outSum := p.Amount.StringFixed(2)
	sign := r.signature(r.merchantLogin, outSum, p.InvoiceID, r.password1)

	var sb strings.Builder
	sb.WriteString(r.paymentURL)
	sb.WriteString("?MerchantLogin=" + url.QueryEscape(r.merchantLogin))
	sb.WriteString("&OutSum=" + url.QueryEscape(outSum))
	sb.WriteString("&InvId=" + url.QueryEscape(p.InvoiceID))
	sb.WriteString("&Description=" + url.QueryEscape(p.Description))
	sb.WriteString("&Culture=ru")
	sb.WriteString("&SignatureValue=" + url.QueryEscape(sign))
	if p.Email != "" {
		sb.WriteString("&Email=" + url.QueryEscape(p.Email))
	}
	if r.testMode {
		sb.WriteString("&IsTest=1")
	}
	return sb.String(), nil
}

// VerifyWebhook проверяет подпись уведомления об оплате.
// Robokassa шлёт подпись в произвольном регистре — сравниваем в нижнем.
func (r *Robokassa) VerifyWebhook(fields map[string]string, sourceIP string) bool {
	outSum := fields["OutSum"]
	invID := fields["InvId"]
	sign := strings.ToLower(fields["SignatureValue"])

	if outSum == "" || invID == "" || sign == "" {
		log.Warn("Robokassa webhook без обязательных полей")
		return false
	}

	expected := r.signature(outSum, invID, r.password2)
	return hmac.Equal([]byte(sign), []byte(expected))
}

// ParseNotification извлекает invoice id и заявленную сумму.
func (r *Robokassa) ParseNotification(fields map[string]string) (*Notification, error) {
	amount, err := decimal.NewFromString(fields["OutSum"])
	if err != nil {
		return nil, fmt.Errorf("robokassa: некорректная сумма %q: %w", fields["OutSum"], err)
	}
	return &Notification{
		InvoiceID: fields["InvId"],
		Amount:    amount,
	}, nil
}

// CheckStatus опрашивает OpStateExt о состоянии счёта.
// Ответ — XML; нам достаточно кода состояния (5 = оплачен, 10 = отменён).
func (r *Robokassa) CheckStatus(ctx context.Context, invoiceID string) (Status, error) {
	sign := r.signature(r.merchantLogin, invoiceID, r.password2)

	form := url.Values{}
	form.Set("MerchantLogin", r.merchantLogin)
	form.Set("InvoiceID", invoiceID)
	form.Set("Signature", sign)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.apiURL+"/OpStateExt", strings.NewReader(form.Encode()))
	if err != nil {
		return StatusPending, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return StatusPending, fmt.Errorf("robokassa: запрос статуса не удался: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StatusPending, fmt.Errorf("robokassa: статус-код %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return StatusPending, err
	}

	content := string(body)
	switch {
	case strings.Contains(content, "State>5<"):
		return StatusPaid, nil
	case strings.Contains(content, "State>10<"):
		return StatusCancelled, nil
	default:
		return StatusPending, nil
	}
}

// Ack — Robokassa принимает JSON-подтверждение.
func (r *Robokassa) Ack() (string, string) {
	return "application/json", `{"status":"OK"}`
}
