package channels

import (
	"encoding/json"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/coopco/relaybot/internal/cron"
)

func init() {
	Register("telegram", newTelegramChannel)
}

type telegramConfig struct {
	Token string `json:"token"`
}

type TelegramChannel struct {
	bot *tgbotapi.BotAPI
}

func newTelegramChannel(cfg json.RawMessage) (Channel, error) {
	var tcfg telegramConfig
	if err := json.Unmarshal(cfg, &tcfg); err != nil {
		return nil, fmt.Errorf("failed to parse telegram config: %w", err)
	}
	bot, err := tgbotapi.NewBotAPI(tcfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramChannel{bot: bot}, nil
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Send(to, text string, opts cron.SendOptions) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", to, err)
	}
	m := tgbotapi.NewMessage(chatID, text)
	if opts.Thread != "" {
		replyTo, err := strconv.Atoi(opts.Thread)
		if err != nil {
			return fmt.Errorf("telegram: invalid thread %q: %w", opts.Thread, err)
		}
		m.ReplyToMessageID = replyTo
	}
	_, err = c.bot.Send(m)
	return err
}
