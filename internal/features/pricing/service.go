// Package pricing — сервис котировок: цена звезды и цена TON в рублях.
// service.go держит кэш цены TON с TTL и наценкой.
//
// Кэш — разделяемое изменяемое состояние, защищён мьютексом.
// Гонка двух одновременных refresh'ей допустима (последний победил):
// цена, устаревшая на один цикл обновления, — бизнес-допуск,
// а не нарушение безопасности.
package pricing

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"starshop.ru/stars-shop/internal/common"
	"starshop.ru/stars-shop/internal/features/ledger"
	"starshop.ru/stars-shop/internal/features/settings"
)

// RateSource — источник рыночных курсов. *Oracle реализует его;
// в тестах подставляется фейк.
type RateSource interface {
	TonUSD(ctx context.Context) (decimal.Decimal, error)
	UsdRub(ctx context.Context) (decimal.Decimal, error)
}

// SettingsProvider — доступ к настройкам (наценка, TTL, fallback-цена).
type SettingsProvider interface {
	GetDecimal(ctx context.Context, key string) (decimal.Decimal, error)
	GetInt(ctx context.Context, key string) (int, error)
}

// Service выдаёт актуальные цены в рублях.
type Service struct {
	source   RateSource
	settings SettingsProvider

	mu          sync.RWMutex
	cachedPrice decimal.Decimal
	lastUpdate  time.Time
}

// NewService создаёт сервис котировок с пустым кэшем.
func NewService(source RateSource, settingsProvider SettingsProvider) *Service {
	return &Service{
		source:   source,
		settings: settingsProvider,
	}
}

// GetPrice возвращает цену единицы валюты в рублях.
// Для звёзд — статическая цена из настроек.
// Для TON — кэш с TTL; при истечении — попытка обновления,
// при недоступных оракулах — прежний кэш или fallback.
func (s *Service) GetPrice(ctx context.Context, currency string) (decimal.Decimal, error) {
	switch currency {
	case ledger.CurrencyStars:
		return s.settings.GetDecimal(ctx, settings.KeyStarsPrice)
	case ledger.CurrencyTon:
		return s.tonPrice(ctx), nil
	default:
		return decimal.Zero, common.ErrInvalidCurrency
	}
}

// tonPrice возвращает цену TON в рублях с наценкой.
func (s *Service) tonPrice(ctx context.Context) decimal.Decimal {
	cacheMinutes, err := s.settings.GetInt(ctx, settings.KeyTonPriceCacheMinutes)
	if err != nil || cacheMinutes <= 0 {
		cacheMinutes = 15
	}
	ttl := time.Duration(cacheMinutes) * time.Minute

	s.mu.RLock()
	fresh := !s.lastUpdate.IsZero() && time.Since(s.lastUpdate) <= ttl
	price := s.cachedPrice
	s.mu.RUnlock()

	if fresh {
		return price
	}

	// Кэш устарел — пробуем обновить. Ошибка оракула не пробрасывается:
	// остаёмся на прежнем кэше, а если его нет — на fallback-цене.
	s.refresh(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.lastUpdate.IsZero() {
		return s.cachedPrice
	}
	return s.fallbackPrice(ctx)
}

// ForceRefresh обновляет цену мимо TTL.
// Вызывается после изменения наценки или fallback-цены, чтобы
// не отдавать котировку, посчитанную со старыми параметрами.
func (s *Service) ForceRefresh(ctx context.Context) {
	s.refresh(ctx)
}

// refresh опрашивает оракулы и атомарно подменяет кэш.
// Любая ошибка (сеть, кривой ответ, таймаут) только логируется.
func (s *Service) refresh(ctx context.Context) {
	tonUSD, err := s.source.TonUSD(ctx)
	if err != nil {
		log.WithError(err).Warn("Оракул цены TON недоступен, остаёмся на кэше/fallback")
		return
	}
	usdRub, err := s.source.UsdRub(ctx)
	if err != nil {
		log.WithError(err).Warn("Оракул курса USD/RUB недоступен, остаёмся на кэше/fallback")
		return
	}

	markup, err := s.settings.GetDecimal(ctx, settings.KeyTonMarkupPercentage)
	if err != nil {
		markup = decimal.NewFromInt(5)
	}

	// Цена = TON/USD × USD/RUB × (1 + наценка/100)
	base := tonUSD.Mul(usdRub)
	final := base.Mul(decimal.NewFromInt(100).Add(markup)).Div(decimal.NewFromInt(100))

	s.mu.Lock()
	s.cachedPrice = final
	s.lastUpdate = time.Now()
	s.mu.Unlock()

	log.WithFields(log.Fields{
		"ton_usd": tonUSD.String(),
		"usd_rub": usdRub.String(),
		"price":   final.StringFixed(2),
	}).Info("Цена TON обновлена")
}

// fallbackPrice возвращает запасную цену из настроек.
func (s *Service) fallbackPrice(ctx context.Context) decimal.Decimal {
	fallback, err := s.settings.GetDecimal(ctx, settings.KeyTonFallbackPrice)
	if err != nil {
		return decimal.NewFromInt(420)
	}
	return fallback
}
