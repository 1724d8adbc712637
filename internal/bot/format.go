package bot

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"secretary/internal/model"
	"secretary/internal/service"
)

const (
	btnCancelDialog = "⏪ Отменить ввод"
	menuLabelTasks  = "📋 Задачи"
	menuLabelNotes  = "🗒 Заметки"
	menuLabelAgenda = "🗓 Повестка"
	menuLabelHelp   = "ℹ️ Помощь"
)

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelTasks),
			tgbotapi.NewKeyboardButton(menuLabelNotes),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelAgenda),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = false
	return kb
}

func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func isCancelInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancelDialog) || value == "отменить ввод" || value == "отмена"
}

func escape(s string) string {
	return html.EscapeString(s)
}

func onOff(v bool) string {
	if v {
		return "включены"
	}
	return "выключены"
}

func formatTask(task model.Task, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("• %s <code>%s</code>", escape(normalizeTitle(task.Title)), task.ShortID()))
	if task.Due != nil {
		due := task.Due.In(loc)
		b.WriteString(fmt.Sprintf("\n   ⏰ %s", due.Format("02.01.2006 15:04")))
		if task.IsFired() {
			b.WriteString(" · напомнил")
		}
	}
	if len(task.Tags) > 0 {
		b.WriteString(fmt.Sprintf("\n   🏷 %s", escape(strings.Join(task.Tags, ", "))))
	}
	b.WriteByte('\n')
	return b.String()
}

func shortTitle(title string, maxLen int) string {
	runes := []rune(strings.TrimSpace(title))
	if len(runes) <= maxLen {
		return string(runes)
	}
	return string(runes[:maxLen-1]) + "…"
}

func normalizeTitle(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	runes := []rune(value)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// splitHashtags pulls #words out of text as tags.
func splitHashtags(raw string) (string, []string) {
	var words, tags []string
	for _, word := range strings.Fields(raw) {
		if tag := strings.TrimPrefix(word, "#"); tag != word && tag != "" {
			tags = append(tags, strings.ToLower(tag))
			continue
		}
		words = append(words, word)
	}
	return strings.Join(words, " "), tags
}

// splitDue finds the due time at the start of a /remind argument. Two-word
// forms such as "2025-06-01 10:00" win over one-word ones. It returns an
// empty due when neither parses.
func splitDue(args string, now time.Time, loc *time.Location) (due, title string) {
	fields := strings.Fields(args)
	for n := 2; n >= 1; n-- {
		if len(fields) < n {
			continue
		}
		candidate := strings.Join(fields[:n], " ")
		if _, err := service.ParseDue(candidate, now, loc); err == nil {
			return candidate, strings.Join(fields[n:], " ")
		}
	}
	return "", args
}
