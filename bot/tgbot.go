package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"

	"Retoucher/core"
	"Retoucher/lib/sl"
	"Retoucher/media"
)

const (
	errorResponse   = "Désolé, un problème est survenu. Réessayez un peu plus tard. Aucun crédit n'a été débité."
	invalidImage    = "Cette photo n'est pas acceptée : envoyez un JPEG ou un PNG de 15 Mo maximum."
	requestTimeout  = 5 * time.Minute
	actionFrequency = 5 * time.Second
)

const helpText = `Envoyez une photo de votre bien pour obtenir une analyse gratuite, puis décrivez la retouche souhaitée.
Chaque retouche réussie coûte 1 crédit ; les analyses et les échecs sont gratuits.

/help - afficher cette aide
/fix - corriger automatiquement les défauts détectés
/credits - voir votre solde
/clear - oublier la conversation et repartir de zéro`

type TgBot struct {
	api         *tgbotapi.BotAPI
	assistant   core.Assistant
	botUsername string
	httpClient  *http.Client
	log         *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func NewTgBot(conf *core.Config, log *slog.Logger) (*TgBot, error) {
	api, err := tgbotapi.NewBotAPI(conf.Telegram.ApiKey)
	if err != nil {
		return nil, fmt.Errorf("creating bot api: %w", err)
	}
	log = log.With(sl.Module("telegram"))
	log.With(
		slog.String("bot", api.Self.UserName),
		sl.Secret(conf.Telegram.ApiKey),
	).Info("authorized")

	ctx, cancel := context.WithCancel(context.Background())
	return &TgBot{
		api:         api,
		botUsername: conf.Telegram.Username,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// SetAssistant sets the service answering messages
func (t *TgBot) SetAssistant(assistant core.Assistant) {
	t.assistant = assistant
}

// Start blocks until Stop is called.
func (t *TgBot) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates, err := t.api.GetUpdatesChan(u)
	if err != nil {
		return fmt.Errorf("getting updates: %w", err)
	}

	for {
		select {
		case <-t.ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			t.dispatch(update.Message)
		}
	}
}

// Stop stops receiving updates and waits for running requests.
func (t *TgBot) Stop() {
	t.cancel()
	t.api.StopReceivingUpdates()
	t.wg.Wait()
}

func (t *TgBot) dispatch(incoming *tgbotapi.Message) {
	chat := incoming.Chat
	if incoming.From == nil {
		return
	}
	if !incoming.IsCommand() && !chat.IsPrivate() && !t.isMentioned(messageText(incoming)) && !t.isReplyToBot(incoming) {
		return
	}

	t.log.With(
		slog.String("user", incoming.From.UserName),
		sl.Text("text", messageText(incoming)),
	).Debug("incoming message")

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(t.ctx, requestTimeout)
		defer cancel()
		t.handle(ctx, incoming)
	}()
}

func (t *TgBot) handle(ctx context.Context, incoming *tgbotapi.Message) {
	chatId := incoming.Chat.ID
	input := core.Input{
		ConversationId: conversationId(incoming.Chat),
		UserId:         userId(incoming.From),
		Text:           t.stripMention(messageText(incoming)),
	}

	if incoming.IsCommand() {
		switch incoming.Command() {
		case "help", "start":
			t.plainResponse(chatId, helpText)
		case "clear":
			if err := t.assistant.ClearConversation(ctx, input.ConversationId); err != nil {
				t.log.Error("clearing conversation", sl.Err(err))
				t.plainResponse(chatId, errorResponse)
				return
			}
			t.plainResponse(chatId, "C'est noté, on repart de zéro. Envoyez une nouvelle photo.")
		case "credits":
			balance, err := t.assistant.Balance(ctx, input.UserId)
			if err != nil {
				t.log.Error("reading balance", sl.Err(err))
				t.plainResponse(chatId, errorResponse)
				return
			}
			t.plainResponse(chatId, fmt.Sprintf("Il vous reste %d crédit(s).", balance))
		case "fix":
			t.withAction(chatId, tgbotapi.ChatUploadPhoto, func() {
				reply, err := t.assistant.FixIssues(ctx, input)
				t.respond(chatId, reply, err)
			})
		default:
			t.plainResponse(chatId, helpText)
		}
		return
	}

	if photo := largestPhoto(incoming.Photo); photo != nil {
		data, err := t.download(ctx, photo.FileID)
		if err != nil {
			t.log.Error("downloading photo", sl.Err(err))
			t.plainResponse(chatId, errorResponse)
			return
		}
		input.Image = &core.Attachment{Data: data}
	}

	t.withAction(chatId, tgbotapi.ChatTyping, func() {
		reply, err := t.assistant.HandleMessage(ctx, input)
		t.respond(chatId, reply, err)
	})
}

func (t *TgBot) download(ctx context.Context, fileId string) ([]byte, error) {
	url, err := t.api.GetFileDirectURL(fileId)
	if err != nil {
		return nil, fmt.Errorf("resolving file: %w", err)
	}
	return media.Fetch(ctx, t.httpClient, url)
}

// withAction keeps the chat action visible while fn runs.
func (t *TgBot) withAction(chatId int64, action string, fn func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(actionFrequency)
		defer ticker.Stop()
		for {
			t.sendChatAction(chatId, action)
			select {
			case <-ticker.C:
			case <-done:
				return
			}
		}
	}()
	fn()
	close(done)
}

func (t *TgBot) sendChatAction(chatId int64, action string) {
	if _, err := t.api.Send(tgbotapi.NewChatAction(chatId, action)); err != nil {
		t.log.Warn("sending chat action", sl.Err(err))
	}
}

func (t *TgBot) respond(chatId int64, reply *core.Reply, err error) {
	if err != nil {
		t.log.Error("handling message", sl.Err(err))
		t.plainResponse(chatId, errorText(err))
		return
	}
	if reply.Image != "" {
		t.photoResponse(chatId, reply.Image, reply.Text)
		return
	}
	t.plainResponse(chatId, reply.Text)
}

func (t *TgBot) plainResponse(chatId int64, text string) {
	msg := tgbotapi.NewMessage(chatId, text)
	if _, err := t.api.Send(msg); err != nil {
		t.log.Error("sending message", sl.Err(err))
	}
}

func (t *TgBot) photoResponse(chatId int64, image core.ImageRef, caption string) {
	// Telegram fetches the photo itself when given a url
	msg := tgbotapi.NewPhotoShare(chatId, string(image))
	msg.Caption = caption
	if _, err := t.api.Send(msg); err != nil {
		t.log.Error("sending photo", sl.Err(err))
		t.plainResponse(chatId, caption+"\n"+string(image))
	}
}

// detect if we are mentioned in the message
func (t *TgBot) isMentioned(text string) bool {
	if t.botUsername != "" {
		return strings.Contains(text, "@"+t.botUsername)
	}
	return false
}

// detect if message is a reply to a message from the bot
func (t *TgBot) isReplyToBot(message *tgbotapi.Message) bool {
	if message.ReplyToMessage != nil && message.ReplyToMessage.From != nil {
		return message.ReplyToMessage.From.UserName == t.botUsername
	}
	return false
}

func (t *TgBot) stripMention(text string) string {
	if t.botUsername == "" {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(strings.ReplaceAll(text, "@"+t.botUsername, ""))
}

func messageText(message *tgbotapi.Message) string {
	if message.Text != "" {
		return message.Text
	}
	return message.Caption
}

func conversationId(chat *tgbotapi.Chat) string {
	return fmt.Sprintf("tg:%d", chat.ID)
}

func userId(user *tgbotapi.User) string {
	return fmt.Sprintf("tg:%d", user.ID)
}

func largestPhoto(photos *[]tgbotapi.PhotoSize) *tgbotapi.PhotoSize {
	if photos == nil || len(*photos) == 0 {
		return nil
	}
	best := &(*photos)[0]
	for i := range *photos {
		p := &(*photos)[i]
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best
}

func errorText(err error) string {
	if errors.Is(err, core.ErrValidation) {
		return invalidImage
	}
	return errorResponse
}
