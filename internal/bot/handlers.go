package bot

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"secretary/internal/calendar"
	"secretary/internal/model"
	"secretary/internal/repository"
	"secretary/internal/service"
)

type conversationStage int

const (
	stageNone conversationStage = iota
	stageNoteText
	stageReminderTitle
	stageReminderDue
)

type conversationState struct {
	stage conversationStage
	input service.TaskInput
}

const cbCompletePrefix = "complete:"

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if !msg.IsCommand() && isCancelInput(msg.Text) {
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Ввод отменён.")
	}

	if !msg.IsCommand() {
		if handled, err := b.handleMenuAlias(ctx, msg); handled {
			return err
		}
	}

	if msg.IsCommand() {
		b.log.InfoContext(ctx, "command", "user_id", msg.From.ID, "command", msg.Command())
		b.clearConversation(msg.From.ID)
		return b.handleCommand(ctx, msg)
	}

	if state, ok := b.getConversation(msg.From.ID); ok {
		return b.handleConversation(ctx, msg, state)
	}

	return b.sendText(msg.Chat.ID, "Я пока не понял сообщение. Набери /help, чтобы увидеть команды.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.TrimSpace(msg.CommandArguments())
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.sendText(msg.Chat.ID, helpText)
	case "profile":
		return b.handleProfile(ctx, msg)
	case "name":
		return b.handleName(ctx, msg, args)
	case "timezone":
		return b.handleTimezone(ctx, msg, args)
	case "email":
		return b.handleEmail(ctx, msg, args)
	case "notify":
		return b.handleNotify(ctx, msg, args)
	case "note":
		return b.handleNote(ctx, msg, args)
	case "notes":
		return b.handleNotes(ctx, msg, args)
	case "find":
		return b.handleFind(ctx, msg, args)
	case "remind":
		return b.handleRemind(ctx, msg, args)
	case "tasks":
		return b.handleTasks(ctx, msg.Chat.ID, msg.From)
	case "done":
		return b.handleDone(ctx, msg, args)
	case "agenda":
		return b.handleAgenda(ctx, msg)
	case "history":
		return b.handleHistory(msg, args)
	case "debug_on":
		b.setDebug(msg.From.ID, true)
		return b.sendText(msg.Chat.ID, "Debug режим включен.")
	case "debug_off":
		b.setDebug(msg.From.ID, false)
		return b.sendText(msg.Chat.ID, "Debug режим выключен.")
	case "debug_status":
		if b.debugEnabled(msg.From.ID) {
			return b.sendText(msg.Chat.ID, "Debug режим включен.")
		}
		return b.sendText(msg.Chat.ID, "Debug режим выключен.")
	case "cancel":
		return b.sendText(msg.Chat.ID, "⏪ Ввод отменён.")
	default:
		return b.sendText(msg.Chat.ID, "Неизвестная команда. Набери /help.")
	}
}

const helpText = "ℹ️ <b>Что я умею</b>\n" +
	"• /note &lt;текст&gt; — сохранить заметку, #слова станут тегами\n" +
	"• /notes [n] — последние заметки\n" +
	"• /find &lt;текст&gt; — поиск по заметкам\n" +
	"• /remind &lt;когда&gt; &lt;что&gt; — напоминание, например <code>/remind 18:30 позвонить маме</code>, <code>/remind +2h выпить воды</code>, <code>/remind 2025-06-01 10:00 врач</code>\n" +
	"• /tasks — открытые задачи\n" +
	"• /done &lt;id&gt; — отметить задачу выполненной\n" +
	"• /agenda — события календаря на сутки\n" +
	"• /profile — мой профиль\n" +
	"• /name, /timezone, /email — изменить профиль\n" +
	"• /notify telegram|calendar on|off — уведомления\n" +
	"• /history [n] — мои последние действия\n" +
	"• /debug_on, /debug_off, /debug_status — отладочные сведения после каждой команды\n" +
	"• /cancel — отменить текущий ввод"

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	existing, err := b.deps.Users.GetProfile(ctx, msg.From.ID)
	if err != nil {
		return err
	}
	update := telegramFields(msg.From)
	if existing == nil || existing.DisplayName == "" {
		name := strings.TrimSpace(msg.From.FirstName)
		update.DisplayName = &name
	}
	profile, err := b.deps.Users.CreateOrUpdateProfile(ctx, msg.From.ID, update)
	if err != nil {
		return err
	}

	text := fmt.Sprintf("👋 Привет, %s!\n<b>Я твой личный секретарь: храню заметки и напоминаю о делах.</b>\n\n%s",
		escape(profile.Name()), helpText)
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleProfile(ctx context.Context, msg *tgbotapi.Message) error {
	profile, err := b.ensureProfile(ctx, msg.From)
	if err != nil {
		return err
	}
	var sb strings.Builder
	sb.WriteString("👤 <b>Профиль</b>\n")
	sb.WriteString(fmt.Sprintf("• <b>Имя:</b> %s\n", escape(profile.Name())))
	sb.WriteString(fmt.Sprintf("• <b>Часовой пояс:</b> %s\n", escape(profile.Location(b.deps.DefaultTimezone).String())))
	email := profile.Email
	if email == "" {
		email = "не указан"
	}
	sb.WriteString(fmt.Sprintf("• <b>Email:</b> %s\n", escape(email)))
	sb.WriteString(fmt.Sprintf("• <b>Уведомления в Telegram:</b> %s\n", onOff(profile.NotifyTelegram)))
	sb.WriteString(fmt.Sprintf("• <b>События в календаре:</b> %s", onOff(profile.NotifyCalendar)))
	return b.sendText(msg.Chat.ID, sb.String())
}

func (b *Bot) handleName(ctx context.Context, msg *tgbotapi.Message, args string) error {
	if args == "" {
		return b.sendText(msg.Chat.ID, "Напиши имя после команды: /name Анна")
	}
	profile, err := b.updateProfile(ctx, msg.From, repository.ProfileUpdate{DisplayName: &args})
	if err != nil {
		return err
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("✅ Буду звать тебя %s.", escape(profile.Name())))
}

func (b *Bot) handleTimezone(ctx context.Context, msg *tgbotapi.Message, args string) error {
	if args == "" {
		return b.sendText(msg.Chat.ID, "Укажи часовой пояс, например: /timezone Europe/Moscow")
	}
	loc, err := time.LoadLocation(args)
	if err != nil {
		return b.sendText(msg.Chat.ID, "Не знаю такой часовой пояс. Пример: <code>Europe/Moscow</code>.")
	}
	name := loc.String()
	if _, err := b.updateProfile(ctx, msg.From, repository.ProfileUpdate{Timezone: &name}); err != nil {
		return err
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("✅ Часовой пояс: %s, сейчас там %s.", escape(name), time.Now().In(loc).Format("15:04")))
}

func (b *Bot) handleEmail(ctx context.Context, msg *tgbotapi.Message, args string) error {
	addr, err := mail.ParseAddress(args)
	if err != nil {
		return b.sendText(msg.Chat.ID, "Укажи корректный адрес: /email name@example.com")
	}
	if _, err := b.updateProfile(ctx, msg.From, repository.ProfileUpdate{Email: &addr.Address}); err != nil {
		return err
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("✅ Приглашения в календарь будут приходить на %s.", escape(addr.Address)))
}

func (b *Bot) handleNotify(ctx context.Context, msg *tgbotapi.Message, args string) error {
	const usage = "Использование: /notify telegram on|off или /notify calendar on|off"
	fields := strings.Fields(strings.ToLower(args))
	if len(fields) != 2 {
		return b.sendText(msg.Chat.ID, usage)
	}
	var value bool
	switch fields[1] {
	case "on", "вкл", "да":
		value = true
	case "off", "выкл", "нет":
	default:
		return b.sendText(msg.Chat.ID, usage)
	}
	var update repository.ProfileUpdate
	switch fields[0] {
	case "telegram", "tg":
		update.NotifyTelegram = &value
	case "calendar", "календарь":
		update.NotifyCalendar = &value
	default:
		return b.sendText(msg.Chat.ID, usage)
	}
	if _, err := b.updateProfile(ctx, msg.From, update); err != nil {
		return err
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("✅ %s: %s", escape(fields[0]), onOff(value)))
}

func (b *Bot) handleNote(ctx context.Context, msg *tgbotapi.Message, args string) error {
	profile, err := b.ensureProfile(ctx, msg.From)
	if err != nil {
		return err
	}
	if args == "" {
		b.setConversation(msg.From.ID, conversationState{stage: stageNoteText})
		return b.sendWithReplyMarkup(msg.Chat.ID, "📝 Что записать?", cancelKeyboard())
	}
	return b.saveNote(ctx, msg.Chat.ID, profile, args)
}

func (b *Bot) saveNote(ctx context.Context, chatID int64, profile model.UserProfile, raw string) error {
	text, tags := splitHashtags(raw)
	if text == "" {
		return b.sendText(chatID, "Заметка пустая, нечего сохранять.")
	}
	if _, err := b.deps.Notes.AppendNote(ctx, profile, text, tags); err != nil {
		return err
	}
	b.record(profile.ID, "Заметка", text)
	return b.sendText(chatID, "✅ Заметка сохранена.")
}

func (b *Bot) handleNotes(ctx context.Context, msg *tgbotapi.Message, args string) error {
	profile, err := b.ensureProfile(ctx, msg.From)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(args)
	text, err := b.deps.Notes.ReadNotes(ctx, profile, limit)
	if err != nil {
		return err
	}
	return b.sendText(msg.Chat.ID, "🗒 <b>Заметки</b>\n"+escape(text))
}

func (b *Bot) handleFind(ctx context.Context, msg *tgbotapi.Message, args string) error {
	profile, err := b.ensureProfile(ctx, msg.From)
	if err != nil {
		return err
	}
	text, err := b.deps.Notes.SearchNotes(ctx, profile, args, repository.DefaultNoteLimit)
	if err != nil {
		return err
	}
	return b.sendText(msg.Chat.ID, "🔎 <b>Найдено</b>\n"+escape(text))
}

func (b *Bot) handleRemind(ctx context.Context, msg *tgbotapi.Message, args string) error {
	profile, err := b.ensureProfile(ctx, msg.From)
	if err != nil {
		return err
	}
	if args == "" {
		b.setConversation(msg.From.ID, conversationState{stage: stageReminderTitle})
		return b.sendWithReplyMarkup(msg.Chat.ID, "⏰ О чём напомнить?", cancelKeyboard())
	}
	due, title := splitDue(args, time.Now(), profile.Location(b.deps.DefaultTimezone))
	if due == "" {
		return b.sendText(msg.Chat.ID, "Не понял, когда напомнить. Пример: <code>/remind 18:30 позвонить маме</code>")
	}
	return b.createReminder(ctx, msg.Chat.ID, profile, service.TaskInput{Title: title, Due: due})
}

func (b *Bot) createReminder(ctx context.Context, chatID int64, profile model.UserProfile, input service.TaskInput) error {
	input.Title, input.Tags = splitHashtags(input.Title)
	task, err := b.deps.Tasks.CreateTask(ctx, profile, input)
	switch {
	case errors.Is(err, service.ErrTitleRequired):
		return b.sendText(chatID, "Напиши, о чём напомнить.")
	case errors.Is(err, service.ErrBadDue):
		return b.sendText(chatID, "Не могу распознать время. Примеры: <code>18:30</code>, <code>+45m</code>, <code>2025-06-01 10:00</code>.")
	case err != nil:
		return err
	}
	b.log.InfoContext(ctx, "task created", "user_id", profile.ID, "task_id", task.ID)
	b.record(profile.ID, "Напоминание", normalizeTitle(task.Title))

	var summary strings.Builder
	summary.WriteString("✅ <b>Напоминание сохранено</b>\n")
	summary.WriteString(fmt.Sprintf("• <b>ID:</b> <code>%s</code>\n", task.ShortID()))
	summary.WriteString(fmt.Sprintf("• <b>Что:</b> %s\n", escape(normalizeTitle(task.Title))))
	if task.Due != nil {
		loc := profile.Location(b.deps.DefaultTimezone)
		summary.WriteString(fmt.Sprintf("• <b>Когда:</b> %s\n", task.Due.In(loc).Format("02.01.2006 15:04")))
	}
	if task.CalendarEventID != "" {
		summary.WriteString("• 🗓 добавлено в календарь\n")
	}
	return b.sendText(chatID, strings.TrimSpace(summary.String()))
}

// handleConversation works on a copy of the stored state and stores the
// next stage explicitly.
func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message, state conversationState) error {
	text := strings.TrimSpace(msg.Text)
	profile, err := b.ensureProfile(ctx, msg.From)
	if err != nil {
		return err
	}
	switch state.stage {
	case stageNoteText:
		b.clearConversation(msg.From.ID)
		return b.saveNote(ctx, msg.Chat.ID, profile, text)
	case stageReminderTitle:
		if text == "" {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Напиши, о чём напомнить.", cancelKeyboard())
		}
		state.input.Title = text
		state.stage = stageReminderDue
		b.setConversation(msg.From.ID, state)
		return b.sendWithReplyMarkup(msg.Chat.ID, "🕑 Когда? Например <code>18:30</code>, <code>+45m</code> или <code>2025-06-01 10:00</code>.", cancelKeyboard())
	case stageReminderDue:
		state.input.Due = text
		input := state.input
		if _, err := service.ParseDue(text, time.Now(), profile.Location(b.deps.DefaultTimezone)); err != nil {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Не могу распознать время. Попробуй ещё раз или нажми «Отменить ввод».", cancelKeyboard())
		}
		b.clearConversation(msg.From.ID)
		return b.createReminder(ctx, msg.Chat.ID, profile, input)
	default:
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "Диалог сброшен. Попробуй ещё раз.")
	}
}

func (b *Bot) handleTasks(ctx context.Context, chatID int64, from *tgbotapi.User) error {
	profile, err := b.ensureProfile(ctx, from)
	if err != nil {
		return err
	}
	tasks, err := b.deps.Tasks.OpenTasks(ctx, profile.ID)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return b.sendText(chatID, "У тебя нет открытых задач. Добавь напоминание через /remind.")
	}

	loc := profile.Location(b.deps.DefaultTimezone)
	var builder strings.Builder
	builder.WriteString("📋 <b>Открытые задачи</b>\n")
	builder.WriteString("Нажми на кнопку, чтобы отметить задачу выполненной.\n\n")

	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, task := range tasks {
		builder.WriteString(formatTask(task, loc))
		buttons = append(buttons, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ "+shortTitle(task.Title, 24), cbCompletePrefix+task.ID),
		))
	}

	msg := tgbotapi.NewMessage(chatID, strings.TrimSpace(builder.String()))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err = b.api.Send(msg)
	return err
}

func (b *Bot) handleDone(ctx context.Context, msg *tgbotapi.Message, args string) error {
	if args == "" {
		return b.sendText(msg.Chat.ID, "Укажи ID задачи: /done 1a2b3c4d")
	}
	return b.completeTask(ctx, msg.Chat.ID, msg.From, args)
}

func (b *Bot) completeTask(ctx context.Context, chatID int64, from *tgbotapi.User, ref string) error {
	profile, err := b.ensureProfile(ctx, from)
	if err != nil {
		return err
	}
	task, err := b.deps.Tasks.CompleteTask(ctx, profile.ID, ref)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return b.sendText(chatID, "Задача не найдена.")
	case errors.Is(err, repository.ErrAmbiguous):
		return b.sendText(chatID, "Под этот ID подходит несколько задач, укажи больше символов.")
	case err != nil:
		return err
	}
	b.record(profile.ID, "Выполнено", normalizeTitle(task.Title))
	return b.sendText(chatID, fmt.Sprintf("✅ Задача «%s» выполнена.", escape(normalizeTitle(task.Title))))
}

func (b *Bot) handleAgenda(ctx context.Context, msg *tgbotapi.Message) error {
	profile, err := b.ensureProfile(ctx, msg.From)
	if err != nil {
		return err
	}
	events, err := b.deps.Tasks.Agenda(ctx, time.Now())
	switch {
	case errors.Is(err, calendar.ErrDisabled):
		return b.sendText(msg.Chat.ID, "Календарь не подключён.")
	case err != nil:
		return err
	}
	if len(events) == 0 {
		return b.sendText(msg.Chat.ID, "🗓 На ближайшие сутки событий нет.")
	}
	loc := profile.Location(b.deps.DefaultTimezone)
	var sb strings.Builder
	sb.WriteString("🗓 <b>Ближайшие сутки</b>\n")
	for _, ev := range events {
		sb.WriteString(fmt.Sprintf("• %s %s\n", ev.Start.In(loc).Format("02.01 15:04"), escape(ev.Summary)))
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(sb.String()))
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	switch {
	case strings.HasPrefix(cb.Data, cbCompletePrefix):
		b.ack(cb, "")
		return b.completeTask(ctx, cb.Message.Chat.ID, cb.From, strings.TrimPrefix(cb.Data, cbCompletePrefix))
	default:
		b.ack(cb, "")
		return nil
	}
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	text := strings.TrimSpace(strings.ToLower(msg.Text))
	switch text {
	case strings.ToLower(menuLabelTasks):
		return true, b.handleTasks(ctx, msg.Chat.ID, msg.From)
	case strings.ToLower(menuLabelNotes):
		return true, b.handleNotes(ctx, msg, "")
	case strings.ToLower(menuLabelAgenda):
		return true, b.handleAgenda(ctx, msg)
	case strings.ToLower(menuLabelHelp):
		return true, b.sendText(msg.Chat.ID, helpText)
	default:
		return false, nil
	}
}

// ensureProfile returns the sender's profile, registering a new user on
// first contact.
func (b *Bot) ensureProfile(ctx context.Context, from *tgbotapi.User) (model.UserProfile, error) {
	profile, err := b.deps.Users.GetProfile(ctx, from.ID)
	if err != nil {
		return model.UserProfile{}, err
	}
	if profile != nil {
		return *profile, nil
	}
	update := telegramFields(from)
	name := strings.TrimSpace(from.FirstName)
	update.DisplayName = &name
	return b.deps.Users.CreateOrUpdateProfile(ctx, from.ID, update)
}

func (b *Bot) updateProfile(ctx context.Context, from *tgbotapi.User, update repository.ProfileUpdate) (model.UserProfile, error) {
	if _, err := b.ensureProfile(ctx, from); err != nil {
		return model.UserProfile{}, err
	}
	profile, err := b.deps.Users.CreateOrUpdateProfile(ctx, from.ID, update)
	if err != nil {
		return model.UserProfile{}, err
	}
	b.record(from.ID, "Профиль", profileChange(update))
	return profile, nil
}

func profileChange(update repository.ProfileUpdate) string {
	var fields []string
	if update.DisplayName != nil {
		fields = append(fields, "имя")
	}
	if update.Timezone != nil {
		fields = append(fields, "часовой пояс")
	}
	if update.Email != nil {
		fields = append(fields, "email")
	}
	if update.NotifyTelegram != nil || update.NotifyCalendar != nil {
		fields = append(fields, "уведомления")
	}
	return strings.Join(fields, ", ")
}

func (b *Bot) record(userID int64, kind, summary string) {
	b.history.Record(userID, kind, shortTitle(summary, 60), time.Now())
}

func (b *Bot) handleHistory(msg *tgbotapi.Message, args string) error {
	limit, _ := strconv.Atoi(args)
	if limit <= 0 {
		limit = 10
	}
	entries := b.history.Recent(msg.From.ID, limit)
	if len(entries) == 0 {
		return b.sendText(msg.Chat.ID, "История пока пуста.")
	}
	var sb strings.Builder
	sb.WriteString("🕘 <b>Последние действия</b>\n")
	for i, e := range entries {
		sb.WriteString(fmt.Sprintf("%d) %s %s: %s\n", i+1, e.At.UTC().Format("2006-01-02 15:04"), e.Kind, escape(e.Summary)))
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(sb.String()))
}

func (b *Bot) setDebug(userID int64, on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if on {
		b.debug[userID] = true
		return
	}
	delete(b.debug, userID)
}

func (b *Bot) debugEnabled(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.debug[userID]
}

func telegramFields(from *tgbotapi.User) repository.ProfileUpdate {
	username := from.UserName
	fullName := strings.TrimSpace(from.FirstName + " " + from.LastName)
	return repository.ProfileUpdate{Username: &username, FullName: &fullName}
}

func (b *Bot) setConversation(userID int64, state conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[userID] = state
}

func (b *Bot) getConversation(userID int64) (conversationState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.conversations[userID]
	return state, ok
}

func (b *Bot) clearConversation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, userID)
}
