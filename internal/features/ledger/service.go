// Package ledger — service.go содержит бизнес-логику журнала покупок.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"starshop.ru/stars-shop/internal/common"
)

// Service управляет журналом транзакций.
type Service struct {
	repo *Repository
}

// NewService создаёт новый сервис журнала.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// CreateIntent создаёт pending-намерение покупки.
func (s *Service) CreateIntent(ctx context.Context, t *Transaction) (*Transaction, error) {
	if t.Amount.IsZero() || t.Amount.IsNegative() {
		return nil, common.ErrInvalidAmount
	}
	if t.Currency != CurrencyStars && t.Currency != CurrencyTon {
		return nil, common.ErrInvalidCurrency
	}

	created, err := s.repo.CreateIntent(ctx, t)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"transaction_id": created.ID,
		"invoice_id":     created.InvoiceID,
		"currency":       created.Currency,
		"amount":         created.Amount.String(),
		"rub_amount":     created.RubAmount.StringFixed(2),
	}).Info("Создано намерение покупки")

	return created, nil
}

// AttachPaymentURL сохраняет ссылку на оплату.
func (s *Service) AttachPaymentURL(ctx context.Context, id, url string) error {
	return s.repo.AttachPaymentURL(ctx, id, url)
}

// GetByID возвращает транзакцию по ID.
func (s *Service) GetByID(ctx context.Context, id string) (*Transaction, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByInvoiceID возвращает транзакцию по invoice_id.
func (s *Service) GetByInvoiceID(ctx context.Context, invoiceID string) (*Transaction, error) {
	return s.repo.GetByInvoiceID(ctx, invoiceID)
}

// CompletePurchase атомарно завершает покупку и раздаёт начисления.
// Возвращает false при повторном завершении (идемпотентный no-op).
func (s *Service) CompletePurchase(ctx context.Context, id, rawPayload string, bonusPercent int64) (bool, error) {
	return s.repo.CompletePurchase(ctx, id, rawPayload, bonusPercent)
}

// MarkFailed помечает покупку неуспешной. No-op для терминальных статусов.
func (s *Service) MarkFailed(ctx context.Context, id, rawPayload string) (bool, error) {
	return s.repo.MarkFailed(ctx, id, rawPayload)
}

// MarkCancelled помечает покупку отменённой. No-op для терминальных статусов.
func (s *Service) MarkCancelled(ctx context.Context, id, rawPayload string) (bool, error) {
	return s.repo.MarkCancelled(ctx, id, rawPayload)
}

// ListStalePending возвращает pending-покупки старше указанного возраста.
func (s *Service) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]*Transaction, error) {
	return s.repo.ListStalePending(ctx, olderThan, limit)
}

// DailyTotals возвращает число завершённых покупок и оборот за сутки.
func (s *Service) DailyTotals(ctx context.Context) (int64, decimal.Decimal, error) {
	return s.repo.DailyTotals(ctx)
}

// ListByUser возвращает последние транзакции пользователя.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListByUser(ctx, userID, limit)
}

// History возвращает форматированную историю операций для бота.
func (s *Service) History(ctx context.Context, userID string) (string, error) {
	txs, err := s.repo.ListByUser(ctx, userID, 10)
	if err != nil {
		return "", err
	}
	if len(txs) == 0 {
		return "📋 У вас пока нет операций", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📋 Последние %d операций:\n\n", len(txs)))
	for i, t := range txs {
		line := fmt.Sprintf("%d. %s | %s %s | %s",
			i+1,
			common.FormatDateTime(t.CreatedAt),
			t.Amount.String(),
			t.Currency,
			t.Status,
		)
		sb.WriteString(line + "\n")
	}
	return sb.String(), nil
}
