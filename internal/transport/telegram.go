package transport

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Telegram adapts a Telegram bot to the Transport contract. A channel is
// opened per chat handle and stays unauthenticated until the user sends the
// pairing code to the bot from their own chat; the code plays the role the
// QR scan plays on phone-based transports.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	log    zerolog.Logger
	events chan Event

	mu       sync.Mutex
	byCode   map[string]string // pairing code -> channel id
	chats    map[string]int64  // channel id -> telegram chat id
	byChat   map[int64]string  // telegram chat id -> channel id
	handles  map[string]string // channel id -> chat handle
	stopOnce sync.Once
	stopped  chan struct{}
}

func NewTelegram(bot *tgbotapi.BotAPI, log zerolog.Logger) *Telegram {
	return &Telegram{
		bot:     bot,
		log:     log,
		events:  make(chan Event, 128),
		byCode:  make(map[string]string),
		chats:   make(map[string]int64),
		byChat:  make(map[int64]string),
		handles: make(map[string]string),
		stopped: make(chan struct{}),
	}
}

// Run consumes bot updates until the context is cancelled. It must be
// started exactly once, before any channel is opened.
func (t *Telegram) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			t.stop()
			return
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			t.handleUpdate(update.Message)
		}
	}
}

func (t *Telegram) handleUpdate(msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)

	if code, ok := strings.CutPrefix(text, "/pair "); ok {
		t.pair(msg.Chat.ID, strings.TrimSpace(code))
		return
	}

	t.mu.Lock()
	channelID, ok := t.byChat[msg.Chat.ID]
	handle := t.handles[channelID]
	t.mu.Unlock()
	if !ok {
		t.log.Debug().Int64("chat_id", msg.Chat.ID).Msg("message from unpaired chat ignored")
		return
	}

	t.emit(Event{Type: EventMessage, ChannelID: channelID, Sender: handle, Text: msg.Text})
}

func (t *Telegram) pair(chatID int64, code string) {
	t.mu.Lock()
	channelID, ok := t.byCode[code]
	if ok {
		delete(t.byCode, code)
		t.chats[channelID] = chatID
		t.byChat[chatID] = channelID
	}
	t.mu.Unlock()

	if !ok {
		t.log.Warn().Int64("chat_id", chatID).Msg("pairing attempt with unknown code")
		return
	}
	t.emit(Event{Type: EventReady, ChannelID: channelID})
}

func (t *Telegram) Open(ctx context.Context, handle string) (string, error) {
	code, err := pairingCode()
	if err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}
	channelID := uuid.New().String()

	t.mu.Lock()
	t.byCode[code] = channelID
	t.handles[channelID] = handle
	t.mu.Unlock()

	t.emit(Event{Type: EventPairingCode, ChannelID: channelID, Text: code})
	return channelID, nil
}

func (t *Telegram) Send(ctx context.Context, channelID, text string) error {
	t.mu.Lock()
	chatID, ok := t.chats[channelID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("channel %s is not paired", channelID)
	}

	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (t *Telegram) Close(ctx context.Context, channelID string) error {
	t.mu.Lock()
	if chatID, ok := t.chats[channelID]; ok {
		delete(t.byChat, chatID)
	}
	delete(t.chats, channelID)
	delete(t.handles, channelID)
	for code, id := range t.byCode {
		if id == channelID {
			delete(t.byCode, code)
		}
	}
	t.mu.Unlock()
	return nil
}

// stop reports every paired channel lost, then releases emit. Once updates
// stop flowing the channels are dead as far as the sessions are concerned.
func (t *Telegram) stop() {
	t.mu.Lock()
	lost := make([]string, 0, len(t.chats))
	for channelID := range t.chats {
		lost = append(lost, channelID)
	}
	t.mu.Unlock()

	for _, channelID := range lost {
		t.emit(Event{Type: EventLost, ChannelID: channelID})
	}
	t.stopOnce.Do(func() { close(t.stopped) })
}

func (t *Telegram) Events() <-chan Event {
	return t.events
}

func (t *Telegram) emit(ev Event) {
	select {
	case t.events <- ev:
	case <-t.stopped:
	}
}

func pairingCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
