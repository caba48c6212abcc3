package bot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/supportbot/core/logger"
	tghelpers "github.com/m3rciful/supportbot/core/telegram/helpers"
	"github.com/m3rciful/supportbot/core/telegram/keyboard"
	"github.com/m3rciful/supportbot/support"
)

// Gateway adapts a telebot instance to the engine's messaging contract. The
// bot is bound after startup, so all methods tolerate an unbound state.
type Gateway struct {
	bot atomic.Pointer[tele.Bot]
}

// NewGateway returns an unbound gateway.
func NewGateway() *Gateway {
	return &Gateway{}
}

// Bind attaches the running bot.
func (g *Gateway) Bind(b *tele.Bot) {
	g.bot.Store(b)
}

func (g *Gateway) ready() (*tele.Bot, error) {
	b := g.bot.Load()
	if b == nil {
		return nil, fmt.Errorf("gateway: bot is not bound")
	}
	return b, nil
}

// Send delivers a Markdown text message with an inline keyboard and returns
// the new message id.
func (g *Gateway) Send(ctx context.Context, chatID int64, text string, menu support.Menu) (int, error) {
	b, err := g.ready()
	if err != nil {
		return 0, err
	}
	msg, err := b.Send(tele.ChatID(chatID), text, sendOptions(menu))
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

// SendMedia delivers media with a caption. A missing file degrades to a plain
// text message so a content misconfiguration never loses the answer.
func (g *Gateway) SendMedia(ctx context.Context, chatID int64, media support.Media, caption string, menu support.Menu) (int, error) {
	b, err := g.ready()
	if err != nil {
		return 0, err
	}
	if _, err := os.Stat(media.Path); err != nil {
		logger.Warn(ctx, "tg", "media_fallback",
			slog.String("path", media.Path),
			slog.String("err", err.Error()),
		)
		return g.Send(ctx, chatID, caption, menu)
	}

	var what any
	switch media.Kind {
	case support.MediaVideo:
		what = &tele.Video{File: tele.FromDisk(media.Path), Caption: caption}
	default:
		what = &tele.Photo{File: tele.FromDisk(media.Path), Caption: caption}
	}
	msg, err := b.Send(tele.ChatID(chatID), what, sendOptions(menu))
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

// Delete removes a message. The call goes through the async dispatcher when
// one is bound, so transient API errors are retried off the handler path.
func (g *Gateway) Delete(ctx context.Context, chatID int64, messageID int) error {
	b, err := g.ready()
	if err != nil {
		return err
	}
	ref := tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID}
	return tghelpers.Dispatch(ctx, "delete.message", "deleteMessage", func() error {
		return b.Delete(ref)
	})
}

// EditMenu replaces the inline keyboard of an existing message.
func (g *Gateway) EditMenu(ctx context.Context, chatID int64, messageID int, menu support.Menu) error {
	b, err := g.ready()
	if err != nil {
		return err
	}
	ref := tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID}
	_, err = b.EditReplyMarkup(ref, markup(menu))
	return err
}

// Forward sends plain text to the admin chat for escalated requests.
func (g *Gateway) Forward(ctx context.Context, chatID int64, text string) error {
	b, err := g.ready()
	if err != nil {
		return err
	}
	_, err = b.Send(tele.ChatID(chatID), text)
	return err
}

func sendOptions(menu support.Menu) *tele.SendOptions {
	return &tele.SendOptions{
		ParseMode:   tele.ModeMarkdown,
		ReplyMarkup: markup(menu),
	}
}

func markup(menu support.Menu) *tele.ReplyMarkup {
	if len(menu) == 0 {
		return nil
	}
	rows := make([][]keyboard.InlineBtn, len(menu))
	for i, row := range menu {
		r := make([]keyboard.InlineBtn, len(row))
		for j, btn := range row {
			r[j] = keyboard.InlineBtn{Text: btn.Label, Unique: btn.Action, Data: btn.Payload}
		}
		rows[i] = r
	}
	return keyboard.InlineButtonsRows(rows...)
}
