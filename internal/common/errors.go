// Package common — errors.go определяет пользовательские ошибки,
// которые используются во всех модулях сервиса.
// Эти ошибки позволяют обработчикам различать типы проблем:
// что отклонить с ошибкой наружу, а что тихо пережить с fallback'ом.
package common

import "errors"

// Ошибки создания покупки (валидация запроса клиента)
var (
	// ErrInvalidCurrency — валюта не stars и не ton
	ErrInvalidCurrency = errors.New("неизвестная валюта")
	// ErrInvalidAmount — некорректное количество (ноль, отрицательное или меньше минимума)
	ErrInvalidAmount = errors.New("некорректное количество")
	// ErrPriceMismatch — сумма в рублях не сходится с котировкой
	ErrPriceMismatch = errors.New("сумма не совпадает с текущей ценой")
	// ErrUserNotFound — пользователь не найден в базе
	ErrUserNotFound = errors.New("пользователь не найден")
)

// Ошибки обработки webhook'ов (отклоняются шлюзу без изменения состояния)
var (
	// ErrInvalidSignature — подпись webhook'а не прошла проверку
	ErrInvalidSignature = errors.New("неверная подпись webhook'а")
	// ErrTransactionNotFound — транзакция с таким invoice_id не существует
	ErrTransactionNotFound = errors.New("транзакция не найдена")
	// ErrAmountMismatch — заявленная сумма расходится с сохранённой больше допуска
	ErrAmountMismatch = errors.New("сумма платежа не совпадает")
	// ErrUnknownGateway — неизвестный ключ платёжной системы
	ErrUnknownGateway = errors.New("неизвестная платёжная система")
)

// Ошибки внешних сервисов
var (
	// ErrUpstreamUnavailable — оракул цены/курса или API шлюза недоступен.
	// На пути котировок гасится fallback'ом и до клиента не доходит.
	ErrUpstreamUnavailable = errors.New("внешний сервис недоступен")
)

// Ошибки админки
var (
	// ErrNotAdmin — неверный админский пароль
	ErrNotAdmin = errors.New("у вас нет прав администратора")
)
