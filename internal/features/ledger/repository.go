// Package ledger — repository.go выполняет все операции с таблицей transactions.
// Все денежные операции выполняются в транзакциях БД для целостности данных.
//
// Переводы статуса сделаны через compare-and-set по условию status='pending':
// два конкурентных webhook'а за один invoice не смогут завершить транзакцию
// дважды — второй просто не обновит ни одной строки.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"starshop.ru/stars-shop/internal/common"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const txColumns = `id, user_id, type, currency, amount::text, rub_amount::text,
	status, description, ton_price_at_purchase::text, payment_system,
	payment_url, invoice_id, payment_data, created_at, paid_at`

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var t Transaction
	var amountText, rubText string
	var tonPriceText *string
	err := row.Scan(
		&t.ID, &t.UserID, &t.Type, &t.Currency, &amountText, &rubText,
		&t.Status, &t.Description, &tonPriceText, &t.PaymentSystem,
		&t.PaymentURL, &t.InvoiceID, &t.PaymentData, &t.CreatedAt, &t.PaidAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования транзакции: %w", err)
	}
	if t.Amount, err = decimal.NewFromString(amountText); err != nil {
		return nil, fmt.Errorf("некорректный amount в базе: %w", err)
	}
	if t.RubAmount, err = decimal.NewFromString(rubText); err != nil {
		return nil, fmt.Errorf("некорректный rub_amount в базе: %w", err)
	}
	if tonPriceText != nil {
		p, err := decimal.NewFromString(*tonPriceText)
		if err != nil {
			return nil, fmt.Errorf("некорректный ton_price_at_purchase в базе: %w", err)
		}
		t.TonPriceAtPurchase = &p
	}
	return &t, nil
}

// CreateIntent создаёт намерение покупки в статусе pending.
// invoice_id генерируется здесь и никогда не меняется.
func (r *Repository) CreateIntent(ctx context.Context, t *Transaction) (*Transaction, error) {
	t.ID = uuid.NewString()
	if t.InvoiceID == "" {
		t.InvoiceID = uuid.NewString()
	}
	t.Status = StatusPending

	var tonPrice *string
	if t.TonPriceAtPurchase != nil {
		s := t.TonPriceAtPurchase.StringFixed(2)
		tonPrice = &s
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO transactions
			(id, user_id, type, currency, amount, rub_amount, status, description,
			 ton_price_at_purchase, payment_system, invoice_id)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9::numeric, $10, $11)
	`,
		t.ID, t.UserID, t.Type, t.Currency,
		t.Amount.String(), t.RubAmount.StringFixed(2), t.Status, t.Description,
		tonPrice, t.PaymentSystem, t.InvoiceID,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания намерения покупки: %w", err)
	}
	return r.GetByID(ctx, t.ID)
}

// AttachPaymentURL сохраняет ссылку на оплату для созданного намерения.
func (r *Repository) AttachPaymentURL(ctx context.Context, id, url string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE transactions SET payment_url = $2 WHERE id = $1`, id, url)
	if err != nil {
		return fmt.Errorf("ошибка сохранения payment_url: %w", err)
	}
	return nil
}

// GetByID возвращает транзакцию по внутреннему ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*Transaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

// GetByInvoiceID возвращает транзакцию по invoice_id (корреляция с webhook'ом).
func (r *Repository) GetByInvoiceID(ctx context.Context, invoiceID string) (*Transaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE invoice_id = $1`, invoiceID)
	return scanTransaction(row)
}

// ListByUser возвращает последние транзакции пользователя.
func (r *Repository) ListByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения транзакций: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// ListStalePending возвращает pending-покупки старше указанного возраста.
// Используется фоновым опросом статусов, когда webhook не дошёл.
func (r *Repository) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]*Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE status = 'pending' AND type = 'purchase' AND created_at < NOW() - $1::interval
		ORDER BY created_at
		LIMIT $2
	`, fmt.Sprintf("%d seconds", int(olderThan.Seconds())), limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки зависших покупок: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// DailyTotals возвращает число завершённых покупок и их рублёвый оборот
// за последние сутки. Используется ежедневным отчётом в логе.
func (r *Repository) DailyTotals(ctx context.Context) (int64, decimal.Decimal, error) {
	var count int64
	var sumText string
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(rub_amount), 0)::text
		FROM transactions
		WHERE type = 'purchase' AND status = 'completed' AND paid_at > NOW() - INTERVAL '24 hours'
	`).Scan(&count, &sumText)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("ошибка подсчёта дневного оборота: %w", err)
	}
	sum, err := decimal.NewFromString(sumText)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("некорректная сумма оборота: %w", err)
	}
	return count, sum, nil
}

// markTerminal переводит транзакцию из pending в терминальный статус.
// Возвращает false, если транзакция уже была в терминальном статусе (no-op).
func (r *Repository) markTerminal(ctx context.Context, id, status, rawPayload string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions
		SET status = $2, payment_data = $3
		WHERE id = $1 AND status = 'pending'
	`, id, status, rawPayload)
	if err != nil {
		return false, fmt.Errorf("ошибка перевода в статус %s: %w", status, err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed помечает покупку неуспешной. No-op для терминальных статусов.
func (r *Repository) MarkFailed(ctx context.Context, id, rawPayload string) (bool, error) {
	return r.markTerminal(ctx, id, StatusFailed, rawPayload)
}

// MarkCancelled помечает покупку отменённой. No-op для терминальных статусов.
func (r *Repository) MarkCancelled(ctx context.Context, id, rawPayload string) (bool, error) {
	return r.markTerminal(ctx, id, StatusCancelled, rawPayload)
}

// CompletePurchase атомарно завершает покупку и раздаёт начисления.
//
// Всё происходит в одной транзакции БД:
//  1. CAS pending → completed (+paid_at, +payment_data);
//  2. начисление купленной валюты покупателю;
//  3. если покупателя пригласили — бонус рефереру и отдельная
//     бонусная запись в журнале для аудита.
//
// Если CAS не прошёл (повторный webhook), возвращается (false, nil)
// и никакие начисления не выполняются — вся идемпотентность держится
// на этом единственном условном UPDATE.
func (r *Repository) CompletePurchase(ctx context.Context, id, rawPayload string, bonusPercent int64) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	// CAS: только победитель этой гонки продолжает начисления
	tag, err := tx.Exec(ctx, `
		UPDATE transactions
		SET status = 'completed', paid_at = NOW(), payment_data = $2
		WHERE id = $1 AND status = 'pending'
	`, id, rawPayload)
	if err != nil {
		return false, fmt.Errorf("ошибка завершения транзакции: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	var userID, currency, amountText string
	err = tx.QueryRow(ctx,
		`SELECT user_id, currency, amount::text FROM transactions WHERE id = $1`, id,
	).Scan(&userID, &currency, &amountText)
	if err != nil {
		return false, fmt.Errorf("ошибка чтения завершаемой транзакции: %w", err)
	}
	amount, err := decimal.NewFromString(amountText)
	if err != nil {
		return false, fmt.Errorf("некорректный amount в базе: %w", err)
	}

	// Начисляем покупателю: целые звёзды или дробный TON
	switch currency {
	case CurrencyStars:
		_, err = tx.Exec(ctx, `
			UPDATE users
			SET stars_balance = stars_balance + $2,
			    total_stars_earned = total_stars_earned + $2
			WHERE id = $1
		`, userID, amount.IntPart())
	case CurrencyTon:
		_, err = tx.Exec(ctx, `
			UPDATE users
			SET ton_balance = ton_balance + $2::numeric
			WHERE id = $1
		`, userID, amount.String())
	default:
		return false, fmt.Errorf("%w: %s", common.ErrInvalidCurrency, currency)
	}
	if err != nil {
		return false, fmt.Errorf("ошибка начисления покупателю: %w", err)
	}

	// Реферальный каскад: bonus = floor(amount × percent / 100) звёзд
	var referredBy *string
	if err := tx.QueryRow(ctx, `SELECT referred_by FROM users WHERE id = $1`, userID).Scan(&referredBy); err != nil {
		return false, fmt.Errorf("ошибка чтения реферера: %w", err)
	}
	if referredBy != nil && bonusPercent > 0 {
		bonus := ReferralBonus(amount, bonusPercent)
		if bonus > 0 {
			_, err = tx.Exec(ctx, `
				UPDATE users
				SET stars_balance = stars_balance + $2,
				    total_referral_earnings = total_referral_earnings + $2
				WHERE id = $1
			`, *referredBy, bonus)
			if err != nil {
				return false, fmt.Errorf("ошибка начисления бонуса рефереру: %w", err)
			}

			// Отдельная запись для аудита бонуса
			_, err = tx.Exec(ctx, `
				INSERT INTO transactions
					(id, user_id, type, currency, amount, rub_amount, status, description, invoice_id, paid_at)
				VALUES ($1, $2, 'referral_bonus', 'stars', $3::numeric, 0, 'completed', $4, $5, NOW())
			`, uuid.NewString(), *referredBy, bonus,
				fmt.Sprintf("Реферальный бонус %d%% с покупки приглашённого", bonusPercent),
				uuid.NewString())
			if err != nil {
				return false, fmt.Errorf("ошибка записи бонусной транзакции: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("ошибка фиксации завершения покупки: %w", err)
	}
	return true, nil
}
