// Package ledger — журнал покупок: каждое намерение оплаты и его жизненный цикл.
// models.go описывает структуру транзакции и допустимые значения полей.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction представляет одну запись журнала.
//
// invoice_id уникален и никогда не переназначается — по нему webhook
// платёжной системы находит свою транзакцию.
// rub_amount фиксируется при создании и больше не пересчитывается:
// учёт прибыли опирается на ton_price_at_purchase, а не на текущий курс.
type Transaction struct {
	ID                 string           `db:"id"`      // UUID
	UserID             string           `db:"user_id"` // покупатель
	Type               string           `db:"type"`    // purchase / referral_bonus / registration_bonus
	Currency           string           `db:"currency"`
	Amount             decimal.Decimal  `db:"amount"`     // сколько куплено (звёзд или TON)
	RubAmount          decimal.Decimal  `db:"rub_amount"` // рублёвая цена, зафиксированная при создании
	Status             string           `db:"status"`
	Description        string           `db:"description"`
	TonPriceAtPurchase *decimal.Decimal `db:"ton_price_at_purchase"` // снимок цены TON (только для покупок TON)
	PaymentSystem      string           `db:"payment_system"`        // ключ платёжной системы
	PaymentURL         string           `db:"payment_url"`
	InvoiceID          string           `db:"invoice_id"`
	PaymentData        string           `db:"payment_data"` // сырой payload webhook'а (JSON)
	CreatedAt          time.Time        `db:"created_at"`
	PaidAt             *time.Time       `db:"paid_at"`
}

// Статусы транзакции.
// pending — начальный; completed/failed/cancelled — терминальные.
// Переход возможен только из pending; повторный перевод в терминальный
// статус — no-op, не ошибка.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Типы транзакций
const (
	TxTypePurchase          = "purchase"           // покупка звёзд или TON
	TxTypeReferralBonus     = "referral_bonus"     // % рефереру с покупки приглашённого
	TxTypeRegistrationBonus = "registration_bonus" // бонус за регистрацию по ссылке
)

// Валюты
const (
	CurrencyStars = "stars"
	CurrencyTon   = "ton"
)

// IsTerminal сообщает, находится ли статус в терминальном состоянии.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}

// ReferralBonus считает бонус рефереру с покупки приглашённого:
// floor(amount × percent / 100) целых звёзд. Округление всегда вниз,
// чтобы сумма бонусов никогда не превышала процент с оборота.
func ReferralBonus(amount decimal.Decimal, percent int64) int64 {
	return amount.Mul(decimal.NewFromInt(percent)).Div(decimal.NewFromInt(100)).Floor().IntPart()
}
