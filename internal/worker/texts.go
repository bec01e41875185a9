package worker

import (
	"fmt"
	"strings"
	"time"
)

// User-facing texts for terminal statuses. Every non-OK outcome gets a
// plain-language explanation.
const (
	textLimit     = "⚠️ Дневной лимит запросов к источнику исчерпан. Попробуйте позже."
	textNotFound  = "❌ По запросу ничего не найдено."
	textForbidden = "🚫 Источник отказал в доступе. Требуется вмешательство оператора."
	textError     = "❌ Ошибка при выполнении запроса. Попробуйте позже."
	textShutdown  = "❌ Сервис останавливается, запрос не выполнен. Отправьте его ещё раз позже."
)

// maxListedLabels caps how many offered options are echoed back when the
// requested name is not among the controls.
const maxListedLabels = 30

func notFoundLabelsText(fio string, labels []string) string {
	if len(labels) == 0 {
		return textNotFound
	}
	if len(labels) > maxListedLabels {
		labels = labels[:maxListedLabels]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "❌ Вариант «%s» не найден среди кнопок. Доступные варианты:\n", fio)
	for _, l := range labels {
		b.WriteString("• ")
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func floodText(wait time.Duration) string {
	secs := int(wait.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("⏳ Источник просит подождать ~%d сек. Запрос не выполнен, попробуйте позже.", secs)
}
