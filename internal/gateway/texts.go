package gateway

import (
	"fmt"
	"time"
)

const textHelp = `Я ищу контакты по ИНН и ФИО.

Одиночный запрос — сообщением в формате:
ИНН; ФИО
например: 2222058686; Маркова Ольга Викторовна

Пакетный запрос — файлом .xlsx с колонками ИНН и ФИО.
Результат придёт файлом output_*.xlsx; строки, не обработанные
из-за дневного лимита источника, вернутся файлом pending_*.xlsx.`

const (
	textBadFormat      = "❌ Неверный формат. Отправьте запрос как «ИНН; ФИО» или файл .xlsx. /help — подробности."
	textBadDocument    = "❌ Поддерживаются только файлы .xlsx с колонками ИНН и ФИО."
	textBadColumns     = "❌ В файле не найдены колонки ИНН и ФИО. Первая строка должна содержать заголовки."
	textQueueFull      = "⚠️ Очередь запросов переполнена. Попробуйте через пару минут."
	textProcessingFile = "⏳ Обрабатываю файл…"
	textFileFetch      = "❌ Не удалось получить файл. Отправьте его ещё раз."
	textBatchFailed    = "❌ Не удалось обработать файл. Попробуйте позже."
	textBatchLimited   = "⚠️ Дневной лимит источника исчерпан. Необработанные строки — в файле pending, отправьте его позже."
)

func sendingText(inn, fio string) string {
	return fmt.Sprintf("⏳ Отправляю: ИНН %s, ФИО %s", inn, fio)
}

func quotaText(retry time.Duration) string {
	mins := int(retry.Round(time.Minute).Minutes())
	if mins < 1 {
		mins = 1
	}
	return fmt.Sprintf("⚠️ Лимит запросов в час исчерпан. Попробуйте примерно через %d мин.", mins)
}

func progressText(done, total int) string {
	return fmt.Sprintf("⏳ Обработано %d из %d строк…", done, total)
}

func batchDoneText(processed, pending int) string {
	if pending > 0 {
		return fmt.Sprintf("Готово: обработано %d строк, отложено %d.", processed, pending)
	}
	return fmt.Sprintf("Готово: обработано %d строк.", processed)
}
