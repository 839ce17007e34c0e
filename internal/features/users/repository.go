// Package users — repository.go отвечает за все операции с таблицей users в БД.
// Каждая функция выполняет один SQL-запрос и возвращает результат или ошибку.
package users

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

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

const userColumns = `id, telegram_id, username, first_name, last_name,
	stars_balance, ton_balance::text, referral_code, referred_by,
	total_stars_earned, total_referral_earnings, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var tonText string
	err := row.Scan(
		&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.LastName,
		&u.StarsBalance, &tonText, &u.ReferralCode, &u.ReferredBy,
		&u.TotalStarsEarned, &u.TotalReferralEarnings, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования пользователя: %w", err)
	}
	u.TonBalance, err = decimal.NewFromString(tonText)
	if err != nil {
		return nil, fmt.Errorf("некорректный ton_balance в базе: %w", err)
	}
	return &u, nil
}

// Create добавляет нового пользователя с уникальным реферальным кодом.
// referredBy — ID пригласившего, nil если пользователь пришёл сам.
func (r *Repository) Create(ctx context.Context, telegramID int64, username, firstName, lastName string, referredBy *string) (*User, error) {
	code, err := generateReferralCode()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	_, err = r.db.Exec(ctx, `
		INSERT INTO users (id, telegram_id, username, first_name, last_name, referral_code, referred_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, telegramID, username, firstName, lastName, code, referredBy)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пользователя: %w", err)
	}
	return r.GetByID(ctx, id)
}

// GetByID возвращает пользователя по внутреннему ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByTelegramID возвращает пользователя по Telegram ID.
func (r *Repository) GetByTelegramID(ctx context.Context, telegramID int64) (*User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, telegramID)
	return scanUser(row)
}

// GetByReferralCode возвращает пользователя-владельца реферального кода.
func (r *Repository) GetByReferralCode(ctx context.Context, code string) (*User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE referral_code = $1`, code)
	return scanUser(row)
}

// AddStars атомарно начисляет звёзды пользователю.
// total_stars_earned растёт вместе с балансом.
func (r *Repository) AddStars(ctx context.Context, userID string, amount int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET stars_balance = stars_balance + $2,
		    total_stars_earned = total_stars_earned + $2
		WHERE id = $1
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("ошибка начисления звёзд: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrUserNotFound
	}
	return nil
}

// AddTon атомарно начисляет TON пользователю.
func (r *Repository) AddTon(ctx context.Context, userID string, amount decimal.Decimal) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET ton_balance = ton_balance + $2::numeric
		WHERE id = $1
	`, userID, amount.String())
	if err != nil {
		return fmt.Errorf("ошибка начисления TON: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrUserNotFound
	}
	return nil
}

// CountReferrals возвращает число приглашённых пользователем.
func (r *Repository) CountReferrals(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE referred_by = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта рефералов: %w", err)
	}
	return n, nil
}

// ListReferrals возвращает приглашённых пользователем (для статистики).
func (r *Repository) ListReferrals(ctx context.Context, userID string) ([]*User, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE referred_by = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения рефералов: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// referralCodeAlphabet — без похожих символов (0/O, 1/l), код вводят руками.
const referralCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZabcdefghjkmnpqrstuvwxyz23456789"

// generateReferralCode генерирует случайный 8-символьный реферальный код.
func generateReferralCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ошибка генерации реферального кода: %w", err)
	}
	for i, b := range buf {
		buf[i] = referralCodeAlphabet[int(b)%len(referralCodeAlphabet)]
	}
	return string(buf), nil
}
