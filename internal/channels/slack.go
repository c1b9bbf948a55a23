package channels

import (
	"encoding/json"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/coopco/relaybot/internal/cron"
)

func init() {
	Register("slack", newSlackChannel)
}

type slackConfig struct {
	BotToken string `json:"botToken"`
}

// SlackChannel sends via the Slack Web API.
type SlackChannel struct {
	client *slack.Client
}

func newSlackChannel(cfg json.RawMessage) (Channel, error) {
	var scfg slackConfig
	if err := json.Unmarshal(cfg, &scfg); err != nil {
		return nil, fmt.Errorf("failed to parse slack config: %w", err)
	}
	return &SlackChannel{client: slack.New(scfg.BotToken)}, nil
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Send(to, text string, opts cron.SendOptions) error {
	msgOpts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if opts.Thread != "" {
		msgOpts = append(msgOpts, slack.MsgOptionTS(opts.Thread))
	}
	if _, _, err := c.client.PostMessage(to, msgOpts...); err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}
