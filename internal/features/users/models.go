// Package users управляет покупателями: телеграм-личность, балансы звёзд
// и TON, реферальные связи.
// models.go описывает структуру пользователя.
package users

import (
	"time"

	"github.com/shopspring/decimal"
)

// User представляет покупателя.
// Балансы растут только через завершённую транзакцию или бонус;
// списания выполняет внешняя система и здесь не описаны.
type User struct {
	ID                     string          `db:"id"`          // UUID
	TelegramID             int64           `db:"telegram_id"` // Telegram user ID
	Username               string          `db:"username"`
	FirstName              string          `db:"first_name"`
	LastName               string          `db:"last_name"`
	StarsBalance           int64           `db:"stars_balance"`
	TonBalance             decimal.Decimal `db:"ton_balance"`
	ReferralCode           string          `db:"referral_code"` // уникальный код для приглашений
	ReferredBy             *string         `db:"referred_by"`   // ID пригласившего (nil, если пришёл сам)
	TotalStarsEarned       int64           `db:"total_stars_earned"`
	TotalReferralEarnings  int64           `db:"total_referral_earnings"`
	CreatedAt              time.Time       `db:"created_at"`
}
