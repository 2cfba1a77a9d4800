package channels

import (
	"fmt"
	"net/url"
	"strings"

	"hookforms/backend/internal/domain"
)

// channelSuggestions 常见拼写错误到正确类型的映射
var channelSuggestions = map[string]domain.ChannelType{
	"discrod":         domain.ChannelDiscord,
	"dicord":          domain.ChannelDiscord,
	"disocrd":         domain.ChannelDiscord,
	"slak":            domain.ChannelSlack,
	"sclack":          domain.ChannelSlack,
	"team":            domain.ChannelTeams,
	"ms-teams":        domain.ChannelTeams,
	"msteams":         domain.ChannelTeams,
	"microsoft-teams": domain.ChannelTeams,
	"telegarm":        domain.ChannelTelegram,
	"telgram":         domain.ChannelTelegram,
	"tg":              domain.ChannelTelegram,
	"emal":            domain.ChannelEmail,
	"mail":            domain.ChannelEmail,
	"e-mail":          domain.ChannelEmail,
	"webhok":          domain.ChannelWebhook,
	"hook":            domain.ChannelWebhook,
	"nfty":            domain.ChannelNtfy,
	"notify":          domain.ChannelNtfy,
}

// SuggestChannelType 输入疑似拼写错误时返回建议的类型
func SuggestChannelType(input string) (domain.ChannelType, bool) {
	if domain.ChannelType(input).Valid() {
		return "", false
	}
	t, ok := channelSuggestions[strings.ToLower(input)]
	return t, ok
}

// ValidateChannelConfig 校验渠道配置，返回空字符串表示合法
func ValidateChannelConfig(t domain.ChannelType, cfg map[string]any) string {
	switch t {
	case domain.ChannelEmail:
		return validateEmailChannel(cfg)
	case domain.ChannelDiscord:
		return validateHostedURL(cfg, "discord.com/api/webhooks", "Discord webhook_url must be a discord.com webhook URL")
	case domain.ChannelSlack:
		return validateHostedURL(cfg, "hooks.slack.com/", "Slack webhook_url must be a hooks.slack.com URL")
	case domain.ChannelTeams:
		return validateURL(firstValue(cfg, "webhook_url", "url"), "webhook_url")
	case domain.ChannelTelegram:
		if msg := validateURL(cfg["bot_url"], "bot_url"); msg != "" {
			return msg
		}
		if !Truthy(cfg["chat_id"]) {
			return "Telegram channel requires chat_id"
		}
		return ""
	case domain.ChannelNtfy:
		if msg := validateURL(cfg["url"], "url"); msg != "" {
			return msg
		}
		if p, ok := cfg["priority"]; ok && p != nil {
			if _, valid := ntfyPriority(p); !valid {
				return "Ntfy priority must be between 1 and 5"
			}
		}
		return ""
	case domain.ChannelWebhook:
		if msg := validateURL(firstValue(cfg, "url", "webhook_url"), "url"); msg != "" {
			return msg
		}
		if h, ok := cfg["custom_headers"]; ok && h != nil {
			if _, isObj := h.(map[string]any); !isObj {
				return "custom_headers must be an object"
			}
		}
		return ""
	default:
		return fmt.Sprintf("Unknown channel type: %s", t)
	}
}

// ValidateProviderConfig 校验邮件服务商配置，返回空字符串表示合法
func ValidateProviderConfig(t domain.ProviderType, cfg map[string]any) string {
	switch t {
	case domain.ProviderGmail:
		return requireFields(cfg, "credentials_path", "token_path", "sender_email")
	case domain.ProviderResend, domain.ProviderSendGrid:
		return requireFields(cfg, "api_key", "from_email")
	case domain.ProviderSMTP:
		return requireFields(cfg, "host", "port", "from_email")
	default:
		return fmt.Sprintf("Unknown provider type: %s", t)
	}
}

// Recipients 解析邮件渠道的收件人，支持数组或逗号分隔字符串
func Recipients(cfg map[string]any) []string {
	switch v := cfg["recipients"].(type) {
	case string:
		return domain.SplitAddressList(v)
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case []string:
		return v
	}
	return nil
}

func validateEmailChannel(cfg map[string]any) string {
	list, ok := cfg["recipients"].([]any)
	if !ok || len(list) == 0 {
		return "Email channel requires a non-empty recipients array"
	}
	for _, r := range list {
		s, isStr := r.(string)
		if !isStr || !strings.Contains(s, "@") {
			return fmt.Sprintf("Invalid email address: %v", r)
		}
	}
	return ""
}

func validateHostedURL(cfg map[string]any, marker, msg string) string {
	v := firstValue(cfg, "webhook_url", "url")
	if m := validateURL(v, "webhook_url"); m != "" {
		return m
	}
	if s, _ := v.(string); !strings.Contains(s, marker) {
		return msg
	}
	return ""
}

func validateURL(v any, field string) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return "Missing required field: " + field
	}
	u, err := url.Parse(s)
	if err != nil {
		return field + " is not a valid URL"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return field + " must use http or https protocol"
	}
	if u.Host == "" {
		return field + " is not a valid URL"
	}
	return ""
}

func firstValue(cfg map[string]any, keys ...string) any {
	for _, k := range keys {
		if Truthy(cfg[k]) {
			return cfg[k]
		}
	}
	return nil
}

func requireFields(cfg map[string]any, fields ...string) string {
	for _, f := range fields {
		if !Truthy(cfg[f]) {
			return "Missing required field: " + f
		}
	}
	return ""
}

