package notify

import "context"

// discordEmbedColor is the sidebar colour of alert embeds.
const discordEmbedColor = 0x2f81f7

// DiscordSender posts alerts to a Discord channel webhook as embeds.
type DiscordSender struct {
	webhookURL string
	client     httpDoer
}

// NewDiscordSender creates a DiscordSender posting to webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newHTTPClient()}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Color       int    `json:"color"`
}

type discordMessage struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// Send posts one embed with title as heading and message as body.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, d.client, d.Name(), d.webhookURL, discordMessage{
		Username: "telemgps",
		Embeds:   []discordEmbed{{Title: title, Description: message, Color: discordEmbedColor}},
	})
}

func (d *DiscordSender) Name() string { return "discord" }
