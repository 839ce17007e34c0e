// Package referral — repository.go выполняет начисления реферальной программы.
package referral

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GrantRegistrationBonus начисляет рефереру фиксированный бонус за
// регистрацию приглашённого. Начисление и журнальная запись — в одной
// транзакции БД.
func (r *Repository) GrantRegistrationBonus(ctx context.Context, referrerID string, stars int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE users
		SET stars_balance = stars_balance + $2,
		    total_referral_earnings = total_referral_earnings + $2
		WHERE id = $1
	`, referrerID, stars)
	if err != nil {
		return fmt.Errorf("ошибка начисления бонуса за регистрацию: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO transactions
			(id, user_id, type, currency, amount, rub_amount, status, description, invoice_id, paid_at)
		VALUES ($1, $2, 'registration_bonus', 'stars', $3::numeric, 0, 'completed', $4, $5, NOW())
	`, uuid.NewString(), referrerID, stars,
		"Бонус за регистрацию приглашённого", uuid.NewString())
	if err != nil {
		return fmt.Errorf("ошибка записи бонусной транзакции: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации бонуса за регистрацию: %w", err)
	}
	return nil
}
