package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"secretary/internal/actionlog"
	"secretary/internal/repository"
	"secretary/internal/retry"
	"secretary/internal/service"
)

// DefaultWorkers bounds concurrently handled updates.
const DefaultWorkers = 8

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Deps are the stores and services behind the commands.
type Deps struct {
	Users     *repository.UserRepository
	Notes     *repository.NoteRepository
	Tasks     *service.TaskService
	Reminders *service.ReminderService
	// DefaultTimezone applies to profiles without a valid timezone.
	DefaultTimezone string
}

// Bot handles Telegram updates and delivers reminders.
type Bot struct {
	api     API
	deps    Deps
	workers int
	log     *slog.Logger

	conversations map[int64]conversationState
	debug         map[int64]bool
	mu            sync.Mutex

	history *actionlog.Log

	// lanes holds updates waiting behind the one being handled for a chat.
	lanes   map[int64][]tgbotapi.Update
	lanesMu sync.Mutex
}

// New authorizes against the Bot API with token.
func New(token string, deps Deps, workers int, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	b := NewWithAPI(api, deps, workers, logger)
	b.log.Info("bot authorized", "account", api.Self.UserName)
	return b, nil
}

// NewWithAPI builds a Bot over an already constructed API client.
func NewWithAPI(api API, deps Deps, workers int, logger *slog.Logger) *Bot {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		api:           api,
		deps:          deps,
		workers:       workers,
		log:           logger,
		conversations: make(map[int64]conversationState),
		debug:         make(map[int64]bool),
		history:       actionlog.New(actionlog.DefaultSize),
		lanes:         make(map[int64][]tgbotapi.Update),
	}
}

// Start polls updates until ctx is cancelled. Chats are handled in parallel,
// at most workers at a time, so a slow store call holds up only the chat
// that made it. Updates of one chat run one after another in arrival order.
// Handlers in flight at shutdown are allowed to finish.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.log.Info("start polling updates", "workers", b.workers)

	var g errgroup.Group
	g.SetLimit(b.workers)
	handlerCtx := context.WithoutCancel(ctx)

	defer func() {
		_ = g.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			chatID, ok := updateChat(update)
			if !ok {
				g.Go(func() error {
					b.handleUpdate(handlerCtx, update)
					return nil
				})
				continue
			}
			if b.enqueue(chatID, update) {
				continue
			}
			g.Go(func() error {
				b.drain(handlerCtx, chatID, update)
				return nil
			})
		}
	}
}

// enqueue parks update behind a running lane for chatID and reports true,
// or opens a new lane and reports false.
func (b *Bot) enqueue(chatID int64, update tgbotapi.Update) bool {
	b.lanesMu.Lock()
	defer b.lanesMu.Unlock()
	if queue, busy := b.lanes[chatID]; busy {
		b.lanes[chatID] = append(queue, update)
		return true
	}
	b.lanes[chatID] = nil
	return false
}

// drain handles first and then whatever queued up for the chat meanwhile.
func (b *Bot) drain(ctx context.Context, chatID int64, first tgbotapi.Update) {
	next := first
	for {
		b.handleUpdate(ctx, next)

		b.lanesMu.Lock()
		queue := b.lanes[chatID]
		if len(queue) == 0 {
			delete(b.lanes, chatID)
			b.lanesMu.Unlock()
			return
		}
		next, b.lanes[chatID] = queue[0], queue[1:]
		b.lanesMu.Unlock()
	}
}

func updateChat(update tgbotapi.Update) (int64, bool) {
	switch {
	case update.Message != nil && update.Message.Chat != nil:
		return update.Message.Chat.ID, true
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil && update.CallbackQuery.Message.Chat != nil:
		return update.CallbackQuery.Message.Chat.ID, true
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		return update.CallbackQuery.From.ID, true
	}
	return 0, false
}

// Notify sends a reminder or digest to a chat.
func (b *Bot) Notify(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send to %d: %w", chatID, err)
	}
	return nil
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("handler panic", "update_id", update.UpdateID, "panic", r)
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		if cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
			return
		}
		err := b.handleCallback(ctx, cb)
		b.finish(ctx, cb.Message.Chat.ID, cb.From.ID, err)
	case update.Message != nil:
		msg := update.Message
		if msg.From == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
			return
		}
		start := time.Now()
		err := b.handleMessage(ctx, msg)
		b.finish(ctx, msg.Chat.ID, msg.From.ID, err)
		b.reportDebug(ctx, msg, time.Since(start), err)
	}
}

type debugReport struct {
	Command   string `json:"command"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Error     string `json:"error,omitempty"`
}

// reportDebug sends a timing block after every message of a user who
// turned debug mode on. The debug commands themselves are not reported.
func (b *Bot) reportDebug(ctx context.Context, msg *tgbotapi.Message, elapsed time.Duration, err error) {
	command := msg.Command()
	if strings.HasPrefix(command, "debug_") || !b.debugEnabled(msg.From.ID) {
		return
	}
	if command == "" {
		command = "text"
	}
	report := debugReport{Command: command, ElapsedMS: elapsed.Milliseconds()}
	if err != nil {
		report.Error = err.Error()
	}
	raw, jsonErr := json.Marshal(report)
	if jsonErr != nil {
		return
	}
	if sendErr := b.sendText(msg.Chat.ID, "<code>"+escape(string(raw))+"</code>"); sendErr != nil {
		b.log.WarnContext(ctx, "send debug report", "user_id", msg.From.ID, "error", sendErr)
	}
}

// finish reports a handler failure to the user and then bumps last seen.
// The bump never changes what the user was told.
func (b *Bot) finish(ctx context.Context, chatID, userID int64, err error) {
	if err != nil {
		b.log.ErrorContext(ctx, "handle update", "user_id", userID, "error", err)
		text := "😕 Что-то пошло не так. Попробуй ещё раз."
		if errors.Is(err, retry.ErrUnavailable) {
			text = "⚠️ Хранилище сейчас недоступно, запрос не выполнен. Попробуй ещё раз через минуту."
		}
		if sendErr := b.sendText(chatID, text); sendErr != nil {
			b.log.WarnContext(ctx, "send error reply", "user_id", userID, "error", sendErr)
		}
	}
	b.touch(ctx, userID)
}

// touch updates last_seen_at for registered users, best effort.
func (b *Bot) touch(ctx context.Context, userID int64) {
	profile, err := b.deps.Users.GetProfile(ctx, userID)
	if err != nil || profile == nil {
		return
	}
	if err := b.deps.Users.UpdateLastSeen(ctx, userID); err != nil {
		b.log.DebugContext(ctx, "last seen not updated", "user_id", userID, "error", err)
	}
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) ack(cb *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
		b.log.Warn("callback ack", "error", err)
	}
}
