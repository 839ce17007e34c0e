// Package gateway инкапсулирует платёжные системы: построение ссылок
// на оплату, проверку подписей webhook'ов и опрос статуса заказа.
//
// Каждый провайдер — отдельная реализация интерфейса Adapter; выбор
// реализации идёт по ключу payment_system, сохранённому на транзакции.
// Никакой иерархии — достаточно таблицы ключ → адаптер.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"starshop.ru/stars-shop/internal/common"
)

// Status — статус заказа при активном опросе платёжной системы.
type Status string

const (
	StatusPaid      Status = "paid"
	StatusPending   Status = "pending"
	StatusCancelled Status = "cancelled"
)

// PaymentParams — параметры для построения ссылки на оплату.
type PaymentParams struct {
	InvoiceID   string
	Amount      decimal.Decimal // сумма в рублях
	Description string
	Currency    string // "RUB"
	Email       string // опционально
	Stars       int64  // только для Fragment (количество звёзд)
}

// Notification — разобранный webhook: поля, общие для всех провайдеров.
type Notification struct {
	InvoiceID string
	Amount    decimal.Decimal // заявленная оплаченная сумма в рублях
	Status    string          // completed/failed/cancelled, если провайдер его шлёт
}

// Adapter — набор возможностей одного платёжного провайдера.
//
// Точные имена полей и порядок параметров в URL — контракт провайдера:
// неверное имя или порядок даёт внешне корректную, но непроверяемую ссылку.
type Adapter interface {
	// Key возвращает ключ провайдера (значение payment_system).
	Key() string

	// BuildPaymentURL собирает ссылку на платёжную страницу провайдера.
	BuildPaymentURL(p PaymentParams) (string, error)

	// VerifyWebhook пересчитывает подпись payload'а и сравнивает её
	// с присланной константным по времени сравнением.
	// sourceIP проверяется по белому списку провайдера, если тот публикует его.
	VerifyWebhook(fields map[string]string, sourceIP string) bool

	// ParseNotification извлекает invoice id и заявленную сумму из payload'а.
	ParseNotification(fields map[string]string) (*Notification, error)

	// CheckStatus активно опрашивает API провайдера.
	// Используется только как fallback, когда webhook не дошёл.
	CheckStatus(ctx context.Context, invoiceID string) (Status, error)

	// Ack возвращает тело подтверждения, которое ожидает провайдер
	// (у одних это literal-строка, у других JSON-объект).
	Ack() (contentType, body string)
}

// Registry — таблица ключ → адаптер.
type Registry map[string]Adapter

// NewRegistry собирает реестр из списка адаптеров.
func NewRegistry(adapters ...Adapter) Registry {
	reg := make(Registry, len(adapters))
	for _, a := range adapters {
		reg[a.Key()] = a
	}
	return reg
}

// Get возвращает адаптер по ключу платёжной системы.
func (r Registry) Get(key string) (Adapter, error) {
	a, ok := r[key]
	if !ok {
		return nil, common.ErrUnknownGateway
	}
	return a, nil
}
