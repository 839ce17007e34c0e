// Package bot содержит телеграм-бота магазина: регистрацию по
// реферальным ссылкам, баланс, историю операций и уведомления об оплате.
package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"starshop.ru/stars-shop/internal/common"
	"starshop.ru/stars-shop/internal/config"
	"starshop.ru/stars-shop/internal/features/ledger"
	"starshop.ru/stars-shop/internal/features/pricing"
	"starshop.ru/stars-shop/internal/features/referral"
	"starshop.ru/stars-shop/internal/features/users"
)

// Bot — телеграм-интерфейс магазина.
type Bot struct {
	api *tgbotapi.BotAPI
	cfg *config.Config

	userService     *users.Service
	ledgerService   *ledger.Service
	referralService *referral.Service
	priceService    *pricing.Service

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
}

// New создаёт бота со всеми зависимостями.
func New(
	api *tgbotapi.BotAPI,
	cfg *config.Config,
	userService *users.Service,
	ledgerService *ledger.Service,
	referralService *referral.Service,
	priceService *pricing.Service,
) *Bot {
	maxInFlight := cfg.BotMaxInflight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}

	return &Bot{
		api:             api,
		cfg:             cfg,
		userService:     userService,
		ledgerService:   ledgerService,
		referralService: referralService,
		priceService:    priceService,
		inflight:        make(chan struct{}, maxInFlight),
	}
}

// Start запускает polling обновлений от Telegram.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.BotUpdateTimeoutSeconds

	updates := b.api.GetUpdatesChan(u)

	log.WithField("max_inflight", b.cfg.BotMaxInflight).Info("Бот запущен и ожидает сообщения...")

	for {
		select {
		case <-ctx.Done():
			log.Info("Бот останавливается (ctx done)...")
			b.api.StopReceivingUpdates()
			return

		case update, ok := <-updates:
			if !ok {
				log.Info("Канал updates закрыт, бот остановлен")
				return
			}

			// лимит параллелизма
			b.inflight <- struct{}{}
			go func(upd tgbotapi.Update) {
				defer func() { <-b.inflight }()
				b.handleUpdate(ctx, upd)
			}(update)
		}
	}
}

// handleUpdate обрабатывает одно обновление от Telegram.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Паника при обработке апдейта")
		}
	}()

	if update.Message == nil || update.Message.Text == "" || update.Message.From == nil {
		return
	}
	message := update.Message
	if !message.Chat.IsPrivate() {
		return
	}

	if !message.IsCommand() {
		b.sendMessage(message.Chat.ID, "Не понимаю. Команды: /start, /balance, /history, /referral, /prices")
		return
	}

	chatID := message.Chat.ID
	switch message.Command() {
	case "start":
		b.handleStart(ctx, chatID, message)
	case "balance":
		b.handleBalance(ctx, chatID, message.From.ID)
	case "history":
		b.handleHistory(ctx, chatID, message.From.ID)
	case "referral":
		b.handleReferral(ctx, chatID, message.From.ID)
	case "prices":
		b.handlePrices(ctx, chatID)
	default:
		b.sendMessage(chatID, "Неизвестная команда. Доступно: /start, /balance, /history, /referral, /prices")
	}
}

// handleStart регистрирует пользователя. Параметр deep-link'а
// /start ref_<код> связывает его с пригласившим.
func (b *Bot) handleStart(ctx context.Context, chatID int64, message *tgbotapi.Message) {
	from := message.From

	var referredBy *string
	referrer, err := b.referralService.ResolveStartParam(ctx, message.CommandArguments())
	if err != nil {
		log.WithError(err).Warn("Не удалось разобрать реферальный параметр")
	}
	if referrer != nil && referrer.TelegramID != from.ID {
		referredBy = &referrer.ID
	}

	u, created, err := b.userService.GetOrCreate(ctx, from.ID, from.UserName, from.FirstName, from.LastName, referredBy)
	if err != nil {
		log.WithError(err).WithField("telegram_id", from.ID).Error("Ошибка регистрации пользователя")
		b.sendMessage(chatID, "Что-то пошло не так, попробуйте позже")
		return
	}

	if created && referredBy != nil {
		if err := b.referralService.OnRegistration(ctx, *referredBy); err != nil {
			log.WithError(err).Error("Не удалось начислить бонус за регистрацию")
		}
	}

	var sb strings.Builder
	if created {
		sb.WriteString(fmt.Sprintf("Добро пожаловать, %s! 👋\n\n", from.FirstName))
	} else {
		sb.WriteString(fmt.Sprintf("С возвращением, %s!\n\n", from.FirstName))
	}
	sb.WriteString("Здесь можно купить звёзды Telegram и TON.\n")
	sb.WriteString(fmt.Sprintf("Ваш реферальный код: %s\n", u.ReferralCode))
	sb.WriteString("Команды: /balance, /history, /referral, /prices")
	b.sendMessage(chatID, sb.String())
}

func (b *Bot) handleBalance(ctx context.Context, chatID, telegramID int64) {
	u, err := b.userService.GetByTelegramID(ctx, telegramID)
	if err != nil {
		b.sendMessage(chatID, "Сначала нажмите /start")
		return
	}
	b.sendMessage(chatID, fmt.Sprintf("💰 Баланс:\n⭐ %s\n💎 %s",
		common.FormatStars(u.StarsBalance), common.FormatTon(u.TonBalance)))
}

func (b *Bot) handleHistory(ctx context.Context, chatID, telegramID int64) {
	u, err := b.userService.GetByTelegramID(ctx, telegramID)
	if err != nil {
		b.sendMessage(chatID, "Сначала нажмите /start")
		return
	}
	text, err := b.ledgerService.History(ctx, u.ID)
	if err != nil {
		log.WithError(err).Error("Ошибка получения истории")
		b.sendMessage(chatID, "Не удалось получить историю, попробуйте позже")
		return
	}
	b.sendMessage(chatID, text)
}

func (b *Bot) handleReferral(ctx context.Context, chatID, telegramID int64) {
	u, err := b.userService.GetByTelegramID(ctx, telegramID)
	if err != nil {
		b.sendMessage(chatID, "Сначала нажмите /start")
		return
	}
	stats, err := b.referralService.Stats(ctx, u.ID)
	if err != nil {
		log.WithError(err).Error("Ошибка получения реферальной сводки")
		b.sendMessage(chatID, "Не удалось получить сводку, попробуйте позже")
		return
	}
	b.sendMessage(chatID, fmt.Sprintf(
		"👥 Реферальная программа\n\nВаша ссылка: %s\nПриглашено: %d\nЗаработано: %s",
		stats.ReferralLink, stats.ReferralCount, common.FormatStars(stats.TotalEarnings)))
}

func (b *Bot) handlePrices(ctx context.Context, chatID int64) {
	starsPrice, err := b.priceService.GetPrice(ctx, ledger.CurrencyStars)
	if err != nil {
		b.sendMessage(chatID, "Цены временно недоступны")
		return
	}
	tonPrice, err := b.priceService.GetPrice(ctx, ledger.CurrencyTon)
	if err != nil {
		b.sendMessage(chatID, "Цены временно недоступны")
		return
	}
	b.sendMessage(chatID, fmt.Sprintf("💱 Цены:\n⭐ 1 звезда — %s\n💎 1 TON — %s",
		common.FormatRub(starsPrice), common.FormatRub(tonPrice)))
}

// SendMessageToUser шлёт пользователю произвольное сообщение.
// Используется движком платежей для уведомлений об оплате.
func (b *Bot) SendMessageToUser(telegramID int64, text string) {
	b.sendMessage(telegramID, text)
}

// sendMessage отправляет текст в чат, ошибки только логируются.
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}
