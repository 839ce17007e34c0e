// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: русская плюрализация, форматирование сумм, работа с временем.
package common

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// PluralizeStars возвращает правильную форму слова «звезда» для числа n.
//
// Правила русского языка:
//   - n%10==1 И n%100!=11 → "звезда" (1, 21, 31, 101, ...)
//   - n%10 в [2,3,4] И n%100 НЕ в [12,13,14] → "звезды" (2, 3, 4, 22, 23, ...)
//   - Остальные случаи → "звёзд" (0, 5-20, 25-30, 100, ...)
func PluralizeStars(n int64) string {
	absN := int64(math.Abs(float64(n)))
	lastDigit := absN % 10
	lastTwoDigits := absN % 100

	if lastDigit == 1 && lastTwoDigits != 11 {
		return "звезда"
	}
	if lastDigit >= 2 && lastDigit <= 4 && (lastTwoDigits < 12 || lastTwoDigits > 14) {
		return "звезды"
	}
	return "звёзд"
}

// FormatStars форматирует баланс звёзд в читабельную строку.
// Пример: FormatStars(150) → "150 звёзд"
func FormatStars(n int64) string {
	return fmt.Sprintf("%d %s", n, PluralizeStars(n))
}

// FormatRub форматирует рублёвую сумму с двумя знаками после запятой.
// Пример: FormatRub(decimal 230) → "230.00 ₽"
func FormatRub(amount decimal.Decimal) string {
	return amount.StringFixed(2) + " ₽"
}

// FormatTon форматирует количество TON без хвостовых нулей.
func FormatTon(amount decimal.Decimal) string {
	return amount.String() + " TON"
}

// FormatDateTime форматирует время для отображения пользователю.
func FormatDateTime(t time.Time) string {
	return t.Format("02.01.2006 15:04")
}
