// Package payments — движок платежей: создание намерений покупки,
// сверка webhook'ов и опрос статусов как fallback.
//
// Вся идемпотентность обработки webhook'ов опирается на условный
// UPDATE в ledger.CompletePurchase: повторное уведомление за тот же
// invoice не начислит ничего второй раз.
package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"starshop.ru/stars-shop/internal/common"
	"starshop.ru/stars-shop/internal/features/ledger"
	"starshop.ru/stars-shop/internal/features/settings"
	"starshop.ru/stars-shop/internal/features/users"
	"starshop.ru/stars-shop/internal/gateway"
)

// Допуски и минимумы покупки.
var (
	// Расхождение котировки клиента и сервера при создании покупки.
	quoteTolerance = decimal.NewFromInt(1)
	// Расхождение суммы webhook'а и суммы намерения.
	amountTolerance = decimal.NewFromFloat(0.01)

	minStars = decimal.NewFromInt(50)
	minTon   = decimal.NewFromFloat(0.1)
)

// Ledger — операции журнала, нужные движку платежей.
type Ledger interface {
	CreateIntent(ctx context.Context, t *ledger.Transaction) (*ledger.Transaction, error)
	AttachPaymentURL(ctx context.Context, id, url string) error
	GetByID(ctx context.Context, id string) (*ledger.Transaction, error)
	GetByInvoiceID(ctx context.Context, invoiceID string) (*ledger.Transaction, error)
	CompletePurchase(ctx context.Context, id, rawPayload string, bonusPercent int64) (bool, error)
	MarkFailed(ctx context.Context, id, rawPayload string) (bool, error)
	MarkCancelled(ctx context.Context, id, rawPayload string) (bool, error)
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]*ledger.Transaction, error)
}

// UserDirectory — доступ к пользователям (проверка покупателя, уведомления).
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*users.User, error)
}

// PriceProvider — актуальные цены в рублях.
type PriceProvider interface {
	GetPrice(ctx context.Context, currency string) (decimal.Decimal, error)
}

// SettingsProvider — настройки движка (процент реферального бонуса).
type SettingsProvider interface {
	GetInt(ctx context.Context, key string) (int, error)
}

// Notifier шлёт пользователю сообщение об успешной оплате.
// В проде это бот; nil — уведомления отключены.
type Notifier func(telegramID int64, text string)

// CreateRequest — запрос на создание покупки.
type CreateRequest struct {
	UserID        string
	Currency      string
	Amount        decimal.Decimal
	RubAmount     decimal.Decimal // котировка, которую видел клиент; 0 — не проверять
	PaymentSystem string          // пусто — freekassa
	Email         string
}

// CreateResult — созданное намерение покупки.
type CreateResult struct {
	TransactionID string          `json:"transaction_id"`
	InvoiceID     string          `json:"invoice_id"`
	PaymentURL    string          `json:"payment_url"`
	RubAmount     decimal.Decimal `json:"rub_amount"`
}

// Engine — движок платежей.
type Engine struct {
	ledger   Ledger
	dir      UserDirectory
	prices   PriceProvider
	settings SettingsProvider
	gateways gateway.Registry
	notify   Notifier
}

// NewEngine создаёт движок платежей.
func NewEngine(l Ledger, dir UserDirectory, prices PriceProvider, sp SettingsProvider, gateways gateway.Registry) *Engine {
	return &Engine{
		ledger:   l,
		dir:      dir,
		prices:   prices,
		settings: sp,
		gateways: gateways,
	}
}

// SetNotifier подключает отправку уведомлений об оплате.
func (e *Engine) SetNotifier(n Notifier) { e.notify = n }

// CreatePurchase валидирует запрос, пересчитывает котировку на сервере,
// создаёт pending-намерение и строит ссылку на оплату.
func (e *Engine) CreatePurchase(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	switch req.Currency {
	case ledger.CurrencyStars:
		if req.Amount.LessThan(minStars) || !req.Amount.IsInteger() {
			return nil, common.ErrInvalidAmount
		}
	case ledger.CurrencyTon:
		if req.Amount.LessThan(minTon) {
			return nil, common.ErrInvalidAmount
		}
	default:
		return nil, common.ErrInvalidCurrency
	}

	if _, err := e.dir.GetByID(ctx, req.UserID); err != nil {
		return nil, err
	}

	price, err := e.prices.GetPrice(ctx, req.Currency)
	if err != nil {
		return nil, err
	}
	total := req.Amount.Mul(price).Round(2)

	// Клиент прислал котировку, которую видел на витрине. Если цена
	// успела уехать дальше допуска, покупка отклоняется и клиент
	// перезапрашивает витрину.
	if !req.RubAmount.IsZero() && req.RubAmount.Sub(total).Abs().GreaterThan(quoteTolerance) {
		log.WithFields(log.Fields{
			"client_rub": req.RubAmount.StringFixed(2),
			"server_rub": total.StringFixed(2),
		}).Warn("Котировка клиента разошлась с серверной")
		return nil, common.ErrPriceMismatch
	}

	paymentSystem := req.PaymentSystem
	if paymentSystem == "" {
		paymentSystem = gateway.KeyFreekassa
	}
	adapter, err := e.gateways.Get(paymentSystem)
	if err != nil {
		return nil, err
	}

	t := &ledger.Transaction{
		UserID:        req.UserID,
		Type:          ledger.TxTypePurchase,
		Currency:      req.Currency,
		Amount:        req.Amount,
		RubAmount:     total,
		PaymentSystem: paymentSystem,
	}
	switch req.Currency {
	case ledger.CurrencyStars:
		t.Description = "Покупка " + common.FormatStars(req.Amount.IntPart())
	case ledger.CurrencyTon:
		t.Description = "Покупка " + common.FormatTon(req.Amount)
		t.TonPriceAtPurchase = &price
	}

	created, err := e.ledger.CreateIntent(ctx, t)
	if err != nil {
		return nil, err
	}

	payURL, err := adapter.BuildPaymentURL(gateway.PaymentParams{
		InvoiceID:   created.InvoiceID,
		Amount:      total,
		Description: created.Description,
		Currency:    "RUB",
		Email:       req.Email,
		Stars:       req.Amount.IntPart(),
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка построения ссылки на оплату: %w", err)
	}
	if err := e.ledger.AttachPaymentURL(ctx, created.ID, payURL); err != nil {
		return nil, err
	}

	return &CreateResult{
		TransactionID: created.ID,
		InvoiceID:     created.InvoiceID,
		PaymentURL:    payURL,
		RubAmount:     total,
	}, nil
}

// ReceiveWebhook сверяет уведомление платёжной системы с журналом.
//
// Порядок строгий: подпись → поиск намерения → сверка суммы →
// идемпотентное завершение. До прохождения подписи состояние
// не меняется вообще.
//
// Возвращает content-type и тело подтверждения, которые ожидает провайдер.
func (e *Engine) ReceiveWebhook(ctx context.Context, gatewayKey string, fields map[string]string, sourceIP string) (string, string, error) {
	adapter, err := e.gateways.Get(gatewayKey)
	if err != nil {
		return "", "", err
	}

	if !adapter.VerifyWebhook(fields, sourceIP) {
		log.WithFields(log.Fields{
			"gateway": gatewayKey,
			"ip":      sourceIP,
		}).Warn("Webhook с невалидной подписью")
		return "", "", common.ErrInvalidSignature
	}

	n, err := adapter.ParseNotification(fields)
	if err != nil {
		return "", "", err
	}

	t, err := e.ledger.GetByInvoiceID(ctx, n.InvoiceID)
	if err != nil {
		return "", "", err
	}

	raw, _ := json.Marshal(fields)
	rawPayload := string(raw)

	// Fragment присылает и неуспешные исходы
	switch n.Status {
	case "failed":
		if _, err := e.ledger.MarkFailed(ctx, t.ID, rawPayload); err != nil {
			return "", "", err
		}
		ct, body := adapter.Ack()
		return ct, body, nil
	case "cancelled":
		if _, err := e.ledger.MarkCancelled(ctx, t.ID, rawPayload); err != nil {
			return "", "", err
		}
		ct, body := adapter.Ack()
		return ct, body, nil
	}

	if n.Amount.Sub(t.RubAmount).Abs().GreaterThan(amountTolerance) {
		log.WithFields(log.Fields{
			"invoice_id":   n.InvoiceID,
			"claimed_rub":  n.Amount.StringFixed(2),
			"expected_rub": t.RubAmount.StringFixed(2),
		}).Warn("Сумма webhook'а расходится с намерением")
		return "", "", common.ErrAmountMismatch
	}

	completed, err := e.completePurchase(ctx, t, rawPayload)
	if err != nil {
		return "", "", err
	}
	if !completed {
		log.WithField("invoice_id", n.InvoiceID).Info("Повторный webhook, транзакция уже завершена")
	}

	ct, body := adapter.Ack()
	return ct, body, nil
}

// completePurchase завершает покупку и при успехе уведомляет покупателя.
// Процент реферального бонуса читается из настроек в момент начисления.
func (e *Engine) completePurchase(ctx context.Context, t *ledger.Transaction, rawPayload string) (bool, error) {
	percent, err := e.settings.GetInt(ctx, settings.KeyReferralBonusPercentage)
	if err != nil {
		return false, err
	}

	completed, err := e.ledger.CompletePurchase(ctx, t.ID, rawPayload, int64(percent))
	if err != nil {
		return false, err
	}
	if completed {
		log.WithFields(log.Fields{
			"transaction_id": t.ID,
			"invoice_id":     t.InvoiceID,
			"currency":       t.Currency,
			"amount":         t.Amount.String(),
			"rub_amount":     t.RubAmount.StringFixed(2),
		}).Info("Покупка завершена")
		e.notifyCompleted(ctx, t)
	}
	return completed, nil
}

// notifyCompleted шлёт покупателю сообщение об успешной оплате.
// Ошибка уведомления не влияет на результат сверки.
func (e *Engine) notifyCompleted(ctx context.Context, t *ledger.Transaction) {
	if e.notify == nil {
		return
	}
	u, err := e.dir.GetByID(ctx, t.UserID)
	if err != nil {
		log.WithError(err).Warn("Не удалось найти покупателя для уведомления")
		return
	}

	var what string
	switch t.Currency {
	case ledger.CurrencyStars:
		what = common.FormatStars(t.Amount.IntPart())
	case ledger.CurrencyTon:
		what = common.FormatTon(t.Amount)
	}
	e.notify(u.TelegramID, fmt.Sprintf("✅ Оплата получена! Зачислено: %s (%s)",
		what, common.FormatRub(t.RubAmount)))
}

// CheckStatus возвращает транзакцию, предварительно опросив платёжную
// систему, если покупка всё ещё pending. Используется как fallback,
// когда webhook не дошёл.
func (e *Engine) CheckStatus(ctx context.Context, transactionID string) (*ledger.Transaction, error) {
	t, err := e.ledger.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if t.Status != ledger.StatusPending || t.Type != ledger.TxTypePurchase {
		return t, nil
	}

	e.reconcile(ctx, t)
	return e.ledger.GetByID(ctx, transactionID)
}

// reconcile опрашивает провайдера и доводит pending-покупку
// до терминального статуса, если провайдер его уже знает.
func (e *Engine) reconcile(ctx context.Context, t *ledger.Transaction) {
	adapter, err := e.gateways.Get(t.PaymentSystem)
	if err != nil {
		return
	}

	status, err := adapter.CheckStatus(ctx, t.InvoiceID)
	if err != nil {
		log.WithError(err).WithField("invoice_id", t.InvoiceID).Debug("Опрос статуса не удался")
		return
	}

	switch status {
	case gateway.StatusPaid:
		if _, err := e.completePurchase(ctx, t, `{"source":"status_poll"}`); err != nil {
			log.WithError(err).WithField("invoice_id", t.InvoiceID).Error("Не удалось завершить покупку по опросу")
		}
	case gateway.StatusCancelled:
		if _, err := e.ledger.MarkCancelled(ctx, t.ID, `{"source":"status_poll"}`); err != nil {
			log.WithError(err).WithField("invoice_id", t.InvoiceID).Error("Не удалось отменить покупку по опросу")
		}
	}
}

// SweepPending опрашивает статусы зависших pending-покупок.
// Возвращает число проверенных транзакций.
func (e *Engine) SweepPending(ctx context.Context, olderThan time.Duration, limit int) int {
	stale, err := e.ledger.ListStalePending(ctx, olderThan, limit)
	if err != nil {
		log.WithError(err).Error("Не удалось выбрать зависшие покупки")
		return 0
	}
	for _, t := range stale {
		e.reconcile(ctx, t)
	}
	return len(stale)
}
