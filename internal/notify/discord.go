package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Embed colors. Pause and revocation alerts are red, the rest neutral.
const (
	discordRed  = 0xE74C3C
	discordBlue = 0x3498DB
)

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

// DiscordSender posts alerts to a Discord webhook as a single embed.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
	now        func() time.Time
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// Send posts the alert. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	embed := discordEmbed{
		Title:       title,
		Description: message,
		Color:       discordColor(title),
		Timestamp:   d.now().UTC().Format(time.RFC3339),
	}
	if err := postJSON(ctx, d.client, d.webhookURL, map[string]any{"embeds": []discordEmbed{embed}}); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }

func discordColor(title string) int {
	switch title {
	case "Ledger paused", "Delegation revoked":
		return discordRed
	default:
		return discordBlue
	}
}
