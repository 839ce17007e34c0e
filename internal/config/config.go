// Package config загружает конфигурацию сервиса из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Telegram ---
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	// Имя бота без @ — для сборки реферальных ссылок t.me/<bot>?start=...
	TelegramBotName string `envconfig:"TELEGRAM_BOT_NAME" default:"stars_shop_bot"`
	// Максимум одновременно обрабатываемых апдейтов
	BotMaxInflight          int `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	BotUpdateTimeoutSeconds int `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"30"`

	// --- HTTP сервер ---
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	// Источники, которым разрешён CORS (фронтенд мини-аппа)
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"shopuser"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"stars_shop"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Europe/Moscow"`

	// --- FreeKassa ---
	FreekassaShopID      string `envconfig:"FREEKASSA_SHOP_ID"`
	FreekassaSecretWord1 string `envconfig:"FREEKASSA_SECRET_WORD1"` // для формирования ссылок на оплату
	FreekassaSecretWord2 string `envconfig:"FREEKASSA_SECRET_WORD2"` // для проверки webhook'ов
	FreekassaAPIKey      string `envconfig:"FREEKASSA_API_KEY"`      // для запросов к API (статус заказа)
	// При true webhook с неизвестного IP отклоняется, а не просто логируется
	FreekassaStrictIP bool `envconfig:"FREEKASSA_STRICT_IP" default:"false"`

	// --- Robokassa ---
	RobokassaLogin     string `envconfig:"ROBOKASSA_MERCHANT_LOGIN"`
	RobokassaPassword1 string `envconfig:"ROBOKASSA_PASSWORD1"` // для формирования ссылок
	RobokassaPassword2 string `envconfig:"ROBOKASSA_PASSWORD2"` // для проверки результата
	RobokassaTestMode  bool   `envconfig:"ROBOKASSA_TEST_MODE" default:"true"`

	// --- Fragment (покупка звёзд) ---
	FragmentBaseURL string `envconfig:"FRAGMENT_BASE_URL" default:"https://fragment.com/pay"`

	// --- Котировки TON ---
	TonPriceURL   string        `envconfig:"TON_PRICE_URL" default:"https://api.binance.com/api/v3/ticker/price?symbol=TONUSDT"`
	FxRateURL     string        `envconfig:"FX_RATE_URL" default:"https://api.exchangerate-api.com/v4/latest/USD"`
	OracleTimeout time.Duration `envconfig:"ORACLE_TIMEOUT" default:"10s"`

	// --- Admin ---
	AdminPasswordHash string `envconfig:"ADMIN_PASSWORD_HASH" required:"true"`

	// --- Rate Limiting (webhook-эндпоинты) ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"60"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR не задан")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.OracleTimeout <= 0 {
		return fmt.Errorf("ORACLE_TIMEOUT должен быть > 0")
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
