package handler

import (
	"strings"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlineKeyboard(t *testing.T) {
	markup := inlineKeyboard(confirmAddMenu())

	require.Len(t, markup.InlineKeyboard, 1)
	row := markup.InlineKeyboard[0]
	require.Len(t, row, 2)
	assert.Equal(t, "Confirm", row[0].Text)
	assert.Equal(t, cbConfirmAdd, row[0].CallbackData)
	assert.Equal(t, cbCancelAdd, row[1].CallbackData)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", displayName(&telego.User{FirstName: "Ada", LastName: "Lovelace"}))
	assert.Equal(t, "Ada", displayName(&telego.User{FirstName: "Ada"}))
	assert.Equal(t, "ada", displayName(&telego.User{Username: "ada"}))
}

func TestBotCommands(t *testing.T) {
	for _, cmd := range BotCommands() {
		assert.Equal(t, strings.ToLower(cmd.Command), cmd.Command)
		assert.NotEmpty(t, cmd.Description)
		assert.Contains(t, msgHelp, "/"+cmd.Command, "help text should mention /%s", cmd.Command)
	}
}
