// Package phone — канонизация телефонных номеров в ключ вида "+79991234567".
// Канонический номер служит ключом хранилища логин-сессий, поэтому все входы
// (очередь сайта, контакты, ручной ввод) проходят через одну функцию.
//
// Правило фиксировано под российский нумерационный план и сознательно не
// претендует на общий E.164-парсер: 11 цифр с ведущей "восьмёркой"
// (внутренний магистральный префикс) переписываются на код страны 7, к 10
// цифрам код страны добавляется. Прочие длины остаются как есть.
package phone

import "strings"

const (
	// countryCode — код страны, подставляемый вместо магистрального префикса.
	countryCode = '7'
	// trunkPrefix — внутренний префикс выхода на межгород.
	trunkPrefix = '8'

	nationalLen = 10
	trunkLen    = 11
)

// Normalize приводит произвольную строку к каноническому ключу "+<цифры>".
// Нецифровые символы отбрасываются. Пустая строка означает, что из входа не
// удалось извлечь ни одной цифры. Функция идемпотентна: повторная
// нормализация уже канонического номера возвращает его же.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}

	switch {
	case len(digits) == trunkLen && digits[0] == trunkPrefix:
		digits = string(countryCode) + digits[1:]
	case len(digits) == nationalLen:
		digits = string(countryCode) + digits
	}
	return "+" + digits
}
