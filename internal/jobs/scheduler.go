// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: регулярное обновление цены TON
// и досмотр зависших pending-покупок, по которым не дошёл webhook.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"starshop.ru/stars-shop/internal/features/ledger"
	"starshop.ru/stars-shop/internal/features/payments"
	"starshop.ru/stars-shop/internal/features/pricing"
)

// Возраст pending-покупки, после которого её статус опрашивается активно.
const staleAfter = 10 * time.Minute

// Сколько зависших покупок проверяется за один проход.
const sweepBatch = 50

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron          *cron.Cron
	priceService  *pricing.Service
	engine        *payments.Engine
	ledgerService *ledger.Service
}

// NewScheduler создаёт планировщик задач с московским часовым поясом.
func NewScheduler(priceService *pricing.Service, engine *payments.Engine, ledgerService *ledger.Service) *Scheduler {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		log.WithError(err).Warn("Не удалось загрузить Europe/Moscow, используем UTC+3")
		loc = time.FixedZone("MSK", 3*60*60)
	}

	return &Scheduler{
		cron:          cron.New(cron.WithLocation(loc)),
		priceService:  priceService,
		engine:        engine,
		ledgerService: ledgerService,
	}
}

// Start запускает все фоновые задачи.
func (s *Scheduler) Start(ctx context.Context) {
	// Обновление цены TON каждые 10 минут
	s.cron.AddFunc("*/10 * * * *", func() {
		log.Debug("[CRON] Обновление цены TON")
		s.priceService.ForceRefresh(ctx)
	})

	// Досмотр зависших pending-покупок каждые 5 минут
	s.cron.AddFunc("*/5 * * * *", func() {
		checked := s.engine.SweepPending(ctx, staleAfter, sweepBatch)
		if checked > 0 {
			log.WithField("checked", checked).Info("[CRON] Проверены зависшие покупки")
		}
	})

	// Ежедневный отчёт об обороте в 00:00 по Москве
	s.cron.AddFunc("0 0 * * *", func() {
		count, sum, err := s.ledgerService.DailyTotals(ctx)
		if err != nil {
			log.WithError(err).Error("[CRON] Ошибка дневного отчёта")
			return
		}
		log.WithFields(log.Fields{
			"purchases": count,
			"rub_total": sum.StringFixed(2),
		}).Info("[CRON] Итоги за сутки")
	})

	s.cron.Start()
	log.Info("Планировщик задач запущен (Europe/Moscow)")
}

// Stop останавливает планировщик.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}
