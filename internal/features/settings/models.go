// Package settings управляет конфигурацией уровня процесса (ключ → значение).
// models.go описывает структуру настройки и известные ключи.
package settings

import "time"

// Setting представляет одну настройку в таблице settings.
type Setting struct {
	ID        int64     `db:"id"`
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Известные ключи настроек
const (
	KeyStarsPrice                = "stars_price"                 // цена одной звезды в рублях
	KeyTonMarkupPercentage       = "ton_markup_percentage"       // наценка к рыночной цене TON, %
	KeyTonPriceCacheMinutes      = "ton_price_cache_minutes"     // TTL кэша цены TON, минуты
	KeyTonFallbackPrice          = "ton_fallback_price"          // запасная цена TON при недоступности оракулов
	KeyReferralBonusPercentage   = "referral_bonus_percentage"   // % бонуса рефереру с покупки
	KeyReferralRegistrationBonus = "referral_registration_bonus" // звёзд за регистрацию по ссылке
	KeyReferralPrefix            = "referral_prefix"             // префикс реферального параметра /start
)

// Defaults — значения, засеиваемые при первом запуске.
// Настройка, уже существующая в базе, не перезаписывается.
var Defaults = map[string]string{
	KeyStarsPrice:                "2.30",
	KeyTonMarkupPercentage:       "5",
	KeyTonPriceCacheMinutes:      "15",
	KeyTonFallbackPrice:          "420",
	KeyReferralBonusPercentage:   "10",
	KeyReferralRegistrationBonus: "25",
	KeyReferralPrefix:            "ref_",
}
