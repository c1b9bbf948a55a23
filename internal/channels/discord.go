package channels

import (
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/coopco/relaybot/internal/cron"
)

func init() {
	Register("discord", newDiscordChannel)
}

type discordConfig struct {
	Token string `json:"token"`
}

type DiscordChannel struct {
	session *discordgo.Session
}

func newDiscordChannel(cfg json.RawMessage) (Channel, error) {
	var dcfg discordConfig
	if err := json.Unmarshal(cfg, &dcfg); err != nil {
		return nil, fmt.Errorf("failed to parse discord config: %w", err)
	}
	session, err := discordgo.New("Bot " + dcfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	return &DiscordChannel{session: session}, nil
}

func (c *DiscordChannel) Name() string { return "discord" }

func (c *DiscordChannel) Send(to, text string, opts cron.SendOptions) error {
	// Discord threads are channels; a thread reference overrides the target.
	target := to
	if opts.Thread != "" {
		target = opts.Thread
	}
	if _, err := c.session.ChannelMessageSend(target, text); err != nil {
		return fmt.Errorf("discord: failed to send message: %w", err)
	}
	return nil
}
