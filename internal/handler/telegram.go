package handler

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rs/zerolog/log"
)

// BotCommands is the command menu shown by Telegram clients.
func BotCommands() []telego.BotCommand {
	return []telego.BotCommand{
		{Command: "start", Description: "Start the bot"},
		{Command: "help", Description: "Show available commands"},
		{Command: "profile", Description: "Show your profile"},
		{Command: "devices", Description: "List your devices"},
		{Command: "add", Description: "Add a device by serial number"},
		{Command: "remove", Description: "Remove a device"},
		{Command: "label", Description: "Get a QR label for a device"},
		{Command: "motor_speed", Description: "Set a motor speed preset"},
	}
}

// TelegramBot polls Telegram for updates and hands them to a Presenter.
type TelegramBot struct {
	bot      *telego.Bot
	username string

	wg sync.WaitGroup
}

func NewTelegramBot(ctx context.Context, token string) (*TelegramBot, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	me, err := bot.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("get bot identity: %w", err)
	}

	return &TelegramBot{bot: bot, username: me.Username}, nil
}

// Username is the bot's own @username without the "@".
func (b *TelegramBot) Username() string {
	return b.username
}

func (b *TelegramBot) SyncCommands(ctx context.Context) error {
	return b.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{
		Commands: BotCommands(),
	})
}

// Run long-polls until ctx is cancelled. Each update is handled on its own
// goroutine because a pairing confirmation blocks until the device answers.
func (b *TelegramBot) Run(ctx context.Context, p *Presenter) error {
	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}
	log.Info().Str("username", b.username).Msg("telegram polling started")

	for update := range updates {
		b.wg.Add(1)
		go func(update telego.Update) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Int("updateId", update.UpdateID).Msg("telegram update handler panicked")
				}
			}()
			b.handleUpdate(ctx, p, update)
		}(update)
	}

	log.Info().Msg("telegram polling stopped")
	return nil
}

// Wait blocks until in-flight updates are handled.
func (b *TelegramBot) Wait() {
	b.wg.Wait()
}

func (b *TelegramBot) handleUpdate(ctx context.Context, p *Presenter, update telego.Update) {
	switch {
	case update.Message != nil:
		msg := update.Message
		if msg.From == nil || msg.Chat.Type != telego.ChatTypePrivate {
			return
		}
		p.HandleMessage(ctx, From{
			UserID: msg.From.ID,
			ChatID: msg.Chat.ID,
			Name:   displayName(msg.From),
		}, msg.Text)

	case update.CallbackQuery != nil:
		query := update.CallbackQuery
		if err := b.bot.AnswerCallbackQuery(ctx, tu.CallbackQuery(query.ID)); err != nil {
			log.Warn().Err(err).Msg("failed to answer callback query")
		}
		p.HandleCallback(ctx, From{
			UserID: query.From.ID,
			ChatID: query.From.ID,
			Name:   displayName(&query.From),
		}, query.Data)
	}
}

func displayName(user *telego.User) string {
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		name = user.Username
	}
	return name
}

func (b *TelegramBot) SendText(ctx context.Context, chatID int64, text string, kb Keyboard) error {
	msg := tu.Message(tu.ID(chatID), text)
	if len(kb) > 0 {
		msg = msg.WithReplyMarkup(inlineKeyboard(kb))
	}
	_, err := b.bot.SendMessage(ctx, msg)
	return err
}

func (b *TelegramBot) SendPhoto(ctx context.Context, chatID int64, png []byte, caption string) error {
	photo := tu.Photo(tu.ID(chatID), tu.File(tu.NameReader(bytes.NewReader(png), "label.png"))).
		WithCaption(caption)
	_, err := b.bot.SendPhoto(ctx, photo)
	return err
}

func inlineKeyboard(kb Keyboard) *telego.InlineKeyboardMarkup {
	rows := make([][]telego.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]telego.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, tu.InlineKeyboardButton(btn.Text).WithCallbackData(btn.Data))
		}
		rows = append(rows, tu.InlineKeyboardRow(buttons...))
	}
	return tu.InlineKeyboard(rows...)
}
