// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: создаёт БД-пул, репозитории, сервисы, платёжные
// адаптеры и собирает всё в бота, HTTP-сервер и планировщик.
package app

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"starshop.ru/stars-shop/internal/bot"
	"starshop.ru/stars-shop/internal/config"
	"starshop.ru/stars-shop/internal/db/postgres"
	"starshop.ru/stars-shop/internal/features/ledger"
	"starshop.ru/stars-shop/internal/features/payments"
	"starshop.ru/stars-shop/internal/features/pricing"
	"starshop.ru/stars-shop/internal/features/referral"
	"starshop.ru/stars-shop/internal/features/settings"
	"starshop.ru/stars-shop/internal/features/users"
	"starshop.ru/stars-shop/internal/gateway"
	"starshop.ru/stars-shop/internal/jobs"
	"starshop.ru/stars-shop/internal/server"
)

// App содержит все компоненты приложения.
type App struct {
	Bot       *bot.Bot
	Server    *server.Server
	Scheduler *jobs.Scheduler
	DB        *pgxpool.Pool
	BotAPI    *tgbotapi.BotAPI
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// === 1. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	// === 2. Telegram Bot API ===
	botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
	}
	botAPI.Debug = cfg.AppEnv == "development"
	log.Infof("Авторизован как @%s", botAPI.Self.UserName)

	// === 3. Репозитории ===
	userRepo := users.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool)
	settingsRepo := settings.NewRepository(pool)
	referralRepo := referral.NewRepository(pool)

	// === 4. Сервисы ===
	settingsService := settings.NewService(settingsRepo)
	if err := settingsService.Seed(ctx); err != nil {
		return nil, fmt.Errorf("ошибка сидирования настроек: %w", err)
	}

	userService := users.NewService(userRepo)
	ledgerService := ledger.NewService(ledgerRepo)
	referralService := referral.NewService(userService, referralRepo, settingsService, cfg.TelegramBotName)

	oracle := pricing.NewOracle(cfg.TonPriceURL, cfg.FxRateURL, cfg.OracleTimeout)
	priceService := pricing.NewService(oracle, settingsService)

	// === 5. Платёжные адаптеры ===
	registry := gateway.NewRegistry(
		gateway.NewFreeKassa(cfg.FreekassaShopID, cfg.FreekassaSecretWord1,
			cfg.FreekassaSecretWord2, cfg.FreekassaAPIKey, cfg.FreekassaStrictIP),
		gateway.NewRobokassa(cfg.RobokassaLogin, cfg.RobokassaPassword1,
			cfg.RobokassaPassword2, cfg.RobokassaTestMode),
		gateway.NewFragment(cfg.TelegramBotToken, cfg.FragmentBaseURL),
	)

	// === 6. Движок платежей ===
	engine := payments.NewEngine(ledgerService, userService, priceService, settingsService, registry)

	// === 7. Бот и уведомления ===
	b := bot.New(botAPI, cfg, userService, ledgerService, referralService, priceService)
	engine.SetNotifier(b.SendMessageToUser)

	// === 8. HTTP-сервер ===
	srv := server.New(cfg, engine, ledgerService, priceService, referralService, settingsService)

	// === 9. Планировщик задач ===
	scheduler := jobs.NewScheduler(priceService, engine, ledgerService)

	return &App{
		Bot:       b,
		Server:    srv,
		Scheduler: scheduler,
		DB:        pool,
		BotAPI:    botAPI,
	}, nil
}

// runMigrations выполняет все SQL-миграции.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if err := postgres.EnsureMigrationsTable(ctx, pool); err != nil {
		return err
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration001Users},
		{2, migration002Transactions},
		{3, migration003Settings},
	}

	for _, m := range migrations {
		if err := postgres.ExecMigrationSQL(ctx, pool, m.version, m.sql); err != nil {
			return fmt.Errorf("миграция %d: %w", m.version, err)
		}
		log.Infof("Миграция %d применена", m.version)
	}

	return nil
}

// SQL-миграции встроены в код для упрощения деплоя.

var migration001Users = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    telegram_id BIGINT NOT NULL UNIQUE,
    username VARCHAR(255) NOT NULL DEFAULT '',
    first_name VARCHAR(255) NOT NULL DEFAULT '',
    last_name VARCHAR(255) NOT NULL DEFAULT '',
    stars_balance BIGINT NOT NULL DEFAULT 0,
    ton_balance NUMERIC(20, 9) NOT NULL DEFAULT 0,
    referral_code VARCHAR(16) NOT NULL UNIQUE,
    referred_by UUID REFERENCES users(id),
    total_stars_earned BIGINT NOT NULL DEFAULT 0,
    total_referral_earnings BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_users_telegram_id ON users(telegram_id);
CREATE INDEX IF NOT EXISTS idx_users_referral_code ON users(referral_code);
CREATE INDEX IF NOT EXISTS idx_users_referred_by ON users(referred_by);
`

var migration002Transactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL REFERENCES users(id),
    type VARCHAR(32) NOT NULL,
    currency VARCHAR(16) NOT NULL,
    amount NUMERIC(20, 9) NOT NULL,
    rub_amount NUMERIC(12, 2) NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'pending',
    description TEXT NOT NULL DEFAULT '',
    ton_price_at_purchase NUMERIC(12, 2),
    payment_system VARCHAR(32) NOT NULL DEFAULT '',
    payment_url TEXT NOT NULL DEFAULT '',
    invoice_id VARCHAR(64) NOT NULL UNIQUE,
    payment_data TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    paid_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_invoice_id ON transactions(invoice_id);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
`

var migration003Settings = `
CREATE TABLE IF NOT EXISTS settings (
    key VARCHAR(64) PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
