// Package referral реализует одноуровневую реферальную программу:
// регистрация по deep-link'у /start ref_<код>, фиксированный бонус
// за приведённого и статистика для владельца кода.
//
// Процент с покупок приглашённых начисляется в момент завершения
// покупки (см. ledger), здесь только регистрационная часть и отчёты.
package referral

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"starshop.ru/stars-shop/internal/features/settings"
	"starshop.ru/stars-shop/internal/features/users"
)

// UserDirectory — операции с пользователями, нужные реферальной программе.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*users.User, error)
	GetByReferralCode(ctx context.Context, code string) (*users.User, error)
	CountReferrals(ctx context.Context, userID string) (int, error)
	ListReferrals(ctx context.Context, userID string) ([]*users.User, error)
}

// BonusStore — начисление регистрационного бонуса.
type BonusStore interface {
	GrantRegistrationBonus(ctx context.Context, referrerID string, stars int64) error
}

// SettingsProvider — настройки реферальной программы.
type SettingsProvider interface {
	Get(ctx context.Context, key string) (string, error)
	GetInt(ctx context.Context, key string) (int, error)
}

// Entry — приглашённый пользователь в сводке.
type Entry struct {
	Username  string    `json:"username"`
	FirstName string    `json:"first_name"`
	JoinedAt  time.Time `json:"joined_at"`
}

// Stats — сводка реферальной программы для пользователя.
type Stats struct {
	ReferralCode  string  `json:"referral_code"`
	ReferralLink  string  `json:"referral_link"`
	ReferralCount int     `json:"referral_count"`
	TotalEarnings int64   `json:"total_earnings"`
	Referrals     []Entry `json:"referrals"`
}

// Service управляет реферальной программой.
type Service struct {
	dir      UserDirectory
	bonuses  BonusStore
	settings SettingsProvider
	botName  string // для сборки реферальной ссылки t.me/<bot>?start=...
}

// NewService создаёт сервис реферальной программы.
func NewService(dir UserDirectory, bonuses BonusStore, sp SettingsProvider, botName string) *Service {
	return &Service{dir: dir, bonuses: bonuses, settings: sp, botName: botName}
}

// ResolveStartParam разбирает параметр deep-link'а /start и возвращает
// пригласившего. Параметр без реферального префикса или с неизвестным
// кодом даёт (nil, nil) — регистрация продолжается без реферера.
func (s *Service) ResolveStartParam(ctx context.Context, param string) (*users.User, error) {
	param = strings.TrimSpace(param)
	if param == "" {
		return nil, nil
	}

	prefix, err := s.settings.Get(ctx, settings.KeyReferralPrefix)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(param, prefix) {
		return nil, nil
	}
	code := strings.TrimPrefix(param, prefix)
	if code == "" {
		return nil, nil
	}

	referrer, err := s.dir.GetByReferralCode(ctx, code)
	if err != nil {
		// Битый или чужой код не должен ломать регистрацию
		log.WithField("code", code).Warn("Реферальный код не найден")
		return nil, nil
	}
	return referrer, nil
}

// OnRegistration начисляет рефереру бонус за регистрацию приглашённого.
// Вызывается ровно один раз — когда пользователь только что создан.
func (s *Service) OnRegistration(ctx context.Context, referrerID string) error {
	stars, err := s.settings.GetInt(ctx, settings.KeyReferralRegistrationBonus)
	if err != nil {
		return err
	}
	if stars <= 0 {
		return nil
	}

	if err := s.bonuses.GrantRegistrationBonus(ctx, referrerID, int64(stars)); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"referrer_id": referrerID,
		"stars":       stars,
	}).Info("Начислен бонус за регистрацию приглашённого")
	return nil
}

// Stats возвращает сводку реферальной программы пользователя.
func (s *Service) Stats(ctx context.Context, userID string) (*Stats, error) {
	u, err := s.dir.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	count, err := s.dir.CountReferrals(ctx, userID)
	if err != nil {
		return nil, err
	}

	referrals, err := s.dir.ListReferrals(ctx, userID)
	if err != nil {
		return nil, err
	}

	prefix, err := s.settings.Get(ctx, settings.KeyReferralPrefix)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(referrals))
	for _, r := range referrals {
		entries = append(entries, Entry{
			Username:  r.Username,
			FirstName: r.FirstName,
			JoinedAt:  r.CreatedAt,
		})
	}

	return &Stats{
		ReferralCode:  u.ReferralCode,
		ReferralLink:  "https://t.me/" + s.botName + "?start=" + prefix + u.ReferralCode,
		ReferralCount: count,
		TotalEarnings: u.TotalReferralEarnings,
		Referrals:     entries,
	}, nil
}
