package bot

import (
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
	"github.com/stretchr/testify/assert"

	"Retoucher/core"
)

func TestLargestPhoto(t *testing.T) {
	assert.Nil(t, largestPhoto(nil))
	assert.Nil(t, largestPhoto(&[]tgbotapi.PhotoSize{}))

	photos := []tgbotapi.PhotoSize{
		{FileID: "small", Width: 90, Height: 60},
		{FileID: "large", Width: 1280, Height: 853},
		{FileID: "medium", Width: 320, Height: 213},
	}
	assert.Equal(t, "large", largestPhoto(&photos).FileID)
}

func TestMessageTextPrefersTextOverCaption(t *testing.T) {
	assert.Equal(t, "bonjour", messageText(&tgbotapi.Message{Text: "bonjour", Caption: "légende"}))
	assert.Equal(t, "supprime le canapé", messageText(&tgbotapi.Message{Caption: "supprime le canapé"}))
}

func TestIdentifiers(t *testing.T) {
	assert.Equal(t, "tg:-1001", conversationId(&tgbotapi.Chat{ID: -1001}))
	assert.Equal(t, "tg:42", userId(&tgbotapi.User{ID: 42}))
}

func TestMentions(t *testing.T) {
	bot := &TgBot{botUsername: "retoucher_bot"}
	assert.True(t, bot.isMentioned("@retoucher_bot enlève la table"))
	assert.False(t, bot.isMentioned("enlève la table"))
	assert.Equal(t, "enlève la table", bot.stripMention("@retoucher_bot enlève la table"))

	reply := &tgbotapi.Message{ReplyToMessage: &tgbotapi.Message{From: &tgbotapi.User{UserName: "retoucher_bot"}}}
	assert.True(t, bot.isReplyToBot(reply))
	assert.False(t, bot.isReplyToBot(&tgbotapi.Message{}))
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, invalidImage, errorText(core.Validation("too big")))
	assert.Equal(t, errorResponse, errorText(errors.New("boom")))
}
