package channels

import (
	"strings"

	"hookforms/backend/internal/domain"
)

// DetectType 根据 URL 推断渠道类型，无法识别时为通用 webhook
func DetectType(url string) domain.ChannelType {
	u := strings.ToLower(url)
	switch {
	case strings.Contains(u, "discord.com/api/webhooks"):
		return domain.ChannelDiscord
	case strings.Contains(u, "hooks.slack.com/"):
		return domain.ChannelSlack
	case strings.Contains(u, "webhook.office.com"), strings.Contains(u, "logic.azure.com"):
		return domain.ChannelTeams
	case strings.Contains(u, "api.telegram.org/bot"):
		return domain.ChannelTelegram
	case strings.Contains(u, "ntfy.sh/"):
		return domain.ChannelNtfy
	default:
		return domain.ChannelWebhook
	}
}

// EffectiveType 渠道实际使用的类型：通用 webhook 配置了 url 时按 URL 推断
func EffectiveType(ch *domain.Channel) domain.ChannelType {
	if ch.Type == domain.ChannelWebhook {
		if u := ch.ConfigString("url"); u != "" {
			return DetectType(u)
		}
	}
	return ch.Type
}

// DestinationURL 返回渠道配置中的出站地址
func DestinationURL(t domain.ChannelType, cfg map[string]any) string {
	switch t {
	case domain.ChannelTelegram:
		return configString(cfg, "bot_url")
	case domain.ChannelNtfy:
		return configString(cfg, "url")
	case domain.ChannelWebhook:
		return configString(cfg, "url", "webhook_url")
	case domain.ChannelEmail:
		return ""
	default:
		return configString(cfg, "webhook_url", "url")
	}
}
