// Package users — service.go содержит бизнес-логику работы с пользователями.
package users

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"starshop.ru/stars-shop/internal/common"
)

// Service управляет пользователями.
type Service struct {
	repo *Repository
}

// NewService создаёт новый сервис пользователей.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// GetOrCreate возвращает пользователя по Telegram ID, создавая при первом визите.
// referredBy — внутренний ID пригласившего (если регистрация по реферальной ссылке).
// Второе возвращаемое значение — true, если пользователь только что создан.
func (s *Service) GetOrCreate(ctx context.Context, telegramID int64, username, firstName, lastName string, referredBy *string) (*User, bool, error) {
	u, err := s.repo.GetByTelegramID(ctx, telegramID)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, common.ErrUserNotFound) {
		return nil, false, err
	}

	u, err = s.repo.Create(ctx, telegramID, username, firstName, lastName, referredBy)
	if err != nil {
		return nil, false, err
	}

	log.WithFields(log.Fields{
		"telegram_id":   telegramID,
		"referral_code": u.ReferralCode,
		"referred":      referredBy != nil,
	}).Info("Зарегистрирован новый пользователь")

	return u, true, nil
}

// GetByID возвращает пользователя по внутреннему ID.
func (s *Service) GetByID(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByTelegramID возвращает пользователя по Telegram ID.
func (s *Service) GetByTelegramID(ctx context.Context, telegramID int64) (*User, error) {
	return s.repo.GetByTelegramID(ctx, telegramID)
}

// GetByReferralCode возвращает владельца реферального кода.
func (s *Service) GetByReferralCode(ctx context.Context, code string) (*User, error) {
	return s.repo.GetByReferralCode(ctx, code)
}

// CountReferrals возвращает число приглашённых пользователем.
func (s *Service) CountReferrals(ctx context.Context, userID string) (int, error) {
	return s.repo.CountReferrals(ctx, userID)
}

// ListReferrals возвращает приглашённых пользователем.
func (s *Service) ListReferrals(ctx context.Context, userID string) ([]*User, error) {
	return s.repo.ListReferrals(ctx, userID)
}
