package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/wheelwatch/internal/models"
)

type fakeSender struct {
	mu    sync.Mutex
	fails int
	sent  []tgbotapi.MessageConfig
	calls int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return tgbotapi.Message{}, errors.New("bad gateway")
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

func testClient(s *fakeSender) *Client {
	return newClient(nil, s, 42, 3, time.Millisecond)
}

func strategyEvent(state models.State, trigger int, text string) models.Event {
	return models.Event{
		Type:        models.EventStrategyUpdate,
		TableID:     "t1",
		DisplayName: "Speed Roulette",
		StrategyEvent: &models.StrategyEvent{
			State:        state,
			TriggerValue: trigger,
			Terminals:    []int{5, 6, 9},
			Wins:         2,
			Losses:       1,
			DisplayText:  text,
		},
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"Hello_World", "Hello\\_World"},
		{"Test*bold*", "Test\\*bold\\*"},
		{"BET ON: 5,6,9", "BET ON: 5,6,9"},
		{"[link](url)", "\\[link\\]\\(url\\)"},
		{"~strikethrough~", "\\~strikethrough\\~"},
		{"`code`", "\\`code\\`"},
		{">blockquote", "\\>blockquote"},
		{"#header", "\\#header"},
		{"+plus-minus", "\\+plus\\-minus"},
		{"=equal|pipe", "\\=equal\\|pipe"},
		{"{brace}", "\\{brace\\}"},
		{"end!", "end\\!"},
		{"", ""},
		{"_*[]()~`>#+-=|{}.!", "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, escapeMarkdownV2(tt.input))
		})
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	_, err := NewClient("", "not-a-number", 3, time.Second)
	assert.Error(t, err)
}

func TestNotable(t *testing.T) {
	assert.True(t, Notable(strategyEvent(models.StateTriggered, 5, "BET ON: 5,6,9")))
	assert.True(t, Notable(strategyEvent(models.StatePostAdjustNeutral, 7, "SECOND ATTEMPT: 4,7,8")))
	assert.True(t, Notable(strategyEvent(models.StateExhausted, 7, "WAITING FOR NEXT CYCLE")))
	assert.False(t, Notable(strategyEvent(models.StateNeutral, models.NoValue, "WAITING FOR TRIGGER")))
	assert.False(t, Notable(models.Event{Type: models.EventNewNumber, NumberEvent: &models.NumberEvent{Value: 5}}))
	assert.False(t, Notable(models.Event{Type: models.EventStrategyUpdate}))
}

func TestFormatMessage(t *testing.T) {
	msg := formatMessage(strategyEvent(models.StateTriggered, 5, "BET ON: 5,6,9"))
	assert.True(t, strings.HasPrefix(msg, "🎯 *Speed Roulette*\n"))
	assert.Contains(t, msg, "BET ON: 5,6,9\n")
	assert.Contains(t, msg, "Trigger: 5\n")
	assert.Contains(t, msg, "Wins: 2 \\| Losses: 1")

	msg = formatMessage(strategyEvent(models.StatePostAdjustNeutral, 7, "SECOND ATTEMPT: 4,7,8"))
	assert.True(t, strings.HasPrefix(msg, "🔁 "))

	ev := strategyEvent(models.StateExhausted, models.NoValue, "WAITING FOR NEXT CYCLE")
	ev.DisplayName = ""
	msg = formatMessage(ev)
	assert.True(t, strings.HasPrefix(msg, "⛔ *t1*\n"))
	assert.NotContains(t, msg, "Trigger:")
}

func TestSendMarkdownV2_Retries(t *testing.T) {
	s := &fakeSender{fails: 2}
	c := testClient(s)

	require.NoError(t, c.sendMarkdownV2(context.Background(), "hello"))
	assert.Equal(t, 3, s.calls)
	msgs := s.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "MarkdownV2", msgs[0].ParseMode)
	assert.Equal(t, int64(42), msgs[0].ChatID)
}

func TestSendMarkdownV2_GivesUp(t *testing.T) {
	s := &fakeSender{fails: 10}
	c := testClient(s)

	err := c.sendMarkdownV2(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 retries")
	assert.Equal(t, 3, s.calls)
}

func TestSendMarkdownV2_Cancelled(t *testing.T) {
	s := &fakeSender{fails: 10}
	c := newClient(nil, s, 42, 5, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, c.sendMarkdownV2(ctx, "hello"), context.Canceled)
	assert.Equal(t, 1, s.calls)
}

func TestSendErrorAndRecovery(t *testing.T) {
	s := &fakeSender{}
	c := testClient(s)

	require.NoError(t, c.SendError(errors.New("target closed.")))
	require.NoError(t, c.SendRecovery(2))

	msgs := s.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Text, "target closed\\.")
	assert.Contains(t, msgs[1].Text, "after 2 consecutive")
}

func TestForward_SendsOnlyNotable(t *testing.T) {
	s := &fakeSender{}
	c := testClient(s)
	events := make(chan models.Event, 4)
	events <- models.Event{Type: models.EventNewNumber, TableID: "t1", NumberEvent: &models.NumberEvent{Value: 5}}
	events <- strategyEvent(models.StateTriggered, 5, "BET ON: 5,6,9")
	events <- strategyEvent(models.StateNeutral, models.NoValue, "WAITING FOR TRIGGER")
	close(events)

	c.Forward(context.Background(), events)

	msgs := s.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "BET ON: 5,6,9")
}

func TestHandleCommand(t *testing.T) {
	command := func(text string) *tgbotapi.Message {
		return &tgbotapi.Message{
			Text:     text,
			Chat:     &tgbotapi.Chat{ID: 7},
			Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
		}
	}
	s := &fakeSender{}
	c := testClient(s)

	c.handleCommand(command("/ping"), nil)
	c.handleCommand(command("/status"), func() string { return "2 tables" })
	c.handleCommand(command("/status"), nil)
	c.handleCommand(command("/unknown"), nil)

	msgs := s.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Pong", msgs[0].Text)
	assert.Equal(t, "2 tables", msgs[1].Text)
	assert.Equal(t, int64(7), msgs[1].ChatID)
}
