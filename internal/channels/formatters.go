package channels

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"hookforms/backend/internal/domain"
)

// discordColor 嵌入卡片的装饰色
const discordColor = 0xD4A843

// fieldMaxLen 卡片类渠道单个字段值的上限
const fieldMaxLen = 1024

// now 便于测试替换
var now = time.Now

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title     string         `json:"title"`
	Color     int            `json:"color"`
	Fields    []discordField `json:"fields"`
	Footer    discordFooter  `json:"footer"`
	Timestamp string         `json:"timestamp"`
}

type discordFooter struct {
	Text string `json:"text"`
}

// FormatDiscord 渲染 Discord 嵌入消息
func FormatDiscord(cfg map[string]any, c Context) (Request, error) {
	url, err := requireURL(cfg, "webhook_url", "url")
	if err != nil {
		return Request{}, err
	}

	fields := make([]discordField, 0)
	for _, f := range VisibleFields(c.Body) {
		value := cut(FormatValue(f.Value, fieldMaxLen), fieldMaxLen)
		fields = append(fields, discordField{
			Name:   Label(f.Key),
			Value:  value,
			Inline: len([]rune(value)) < 50,
		})
	}

	body, err := json.Marshal(map[string][]discordEmbed{
		"embeds": {{
			Title:     c.Title(),
			Color:     discordColor,
			Fields:    fields,
			Footer:    discordFooter{Text: c.Origin()},
			Timestamp: now().UTC().Format(time.RFC3339),
		}},
	})
	if err != nil {
		return Request{}, err
	}
	return Request{Method: http.MethodPost, URL: url, Headers: baseHeaders(c, "application/json"), Body: body}, nil
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type string    `json:"type"`
	Text slackText `json:"text"`
}

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

// FormatSlack 渲染 Slack mrkdwn 消息
func FormatSlack(cfg map[string]any, c Context) (Request, error) {
	url, err := requireURL(cfg, "webhook_url", "url")
	if err != nil {
		return Request{}, err
	}

	var lines []string
	for _, f := range VisibleFields(c.Body) {
		lines = append(lines, fmt.Sprintf("*%s:* %s", strings.ReplaceAll(f.Key, "_", " "), FormatValue(f.Value, DefaultMaxLen)))
	}

	body, err := json.Marshal(slackMessage{
		Text: c.Title(),
		Blocks: []slackBlock{{
			Type: "section",
			Text: slackText{Type: "mrkdwn", Text: strings.Join(lines, "\n")},
		}},
	})
	if err != nil {
		return Request{}, err
	}
	return Request{Method: http.MethodPost, URL: url, Headers: baseHeaders(c, "application/json"), Body: body}, nil
}

type teamsFact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

type teamsElement struct {
	Type   string      `json:"type"`
	Text   string      `json:"text,omitempty"`
	Weight string      `json:"weight,omitempty"`
	Size   string      `json:"size,omitempty"`
	Color  string      `json:"color,omitempty"`
	Wrap   bool        `json:"wrap,omitempty"`
	Facts  []teamsFact `json:"facts,omitempty"`
}

type teamsCard struct {
	Type    string         `json:"type"`
	Schema  string         `json:"$schema"`
	Version string         `json:"version"`
	Body    []teamsElement `json:"body"`
}

type teamsAttachment struct {
	ContentType string    `json:"contentType"`
	Content     teamsCard `json:"content"`
}

type teamsMessage struct {
	Type        string            `json:"type"`
	Attachments []teamsAttachment `json:"attachments"`
}

// FormatTeams 渲染 Microsoft Teams 自适应卡片
func FormatTeams(cfg map[string]any, c Context) (Request, error) {
	url, err := requireURL(cfg, "webhook_url", "url")
	if err != nil {
		return Request{}, err
	}

	facts := make([]teamsFact, 0)
	for _, f := range VisibleFields(c.Body) {
		facts = append(facts, teamsFact{
			Title: Label(f.Key),
			Value: cut(FormatValue(f.Value, fieldMaxLen), fieldMaxLen),
		})
	}

	body, err := json.Marshal(teamsMessage{
		Type: "message",
		Attachments: []teamsAttachment{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content: teamsCard{
				Type:    "AdaptiveCard",
				Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
				Version: "1.4",
				Body: []teamsElement{
					{Type: "TextBlock", Text: c.Title(), Weight: "Bolder", Size: "Large", Wrap: true},
					{Type: "FactSet", Facts: facts},
					{Type: "TextBlock", Text: c.Origin(), Size: "Small", Color: "Accent", Wrap: true},
				},
			},
		}},
	})
	if err != nil {
		return Request{}, err
	}
	return Request{Method: http.MethodPost, URL: url, Headers: baseHeaders(c, "application/json"), Body: body}, nil
}

// FormatTelegram 渲染 Telegram Bot API 的 HTML 消息
func FormatTelegram(cfg map[string]any, c Context) (Request, error) {
	url, err := requireURL(cfg, "bot_url")
	if err != nil {
		return Request{}, err
	}
	chatID, ok := cfg["chat_id"]
	if !ok || !Truthy(chatID) {
		return Request{}, fmt.Errorf("%w: missing chat_id", ErrInvalidConfig)
	}

	lines := []string{fmt.Sprintf("<b>%s</b>\n", escapeTelegram(c.Title()))}
	for _, f := range VisibleFields(c.Body) {
		lines = append(lines, fmt.Sprintf("<b>%s:</b> %s", escapeTelegram(Label(f.Key)), escapeTelegram(FormatValue(f.Value, DefaultMaxLen))))
	}
	lines = append(lines, fmt.Sprintf("\n<i>%s</i>", escapeTelegram(c.Origin())))

	body, err := json.Marshal(&bot.SendMessageParams{
		ChatID:    chatID,
		Text:      strings.Join(lines, "\n"),
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		return Request{}, err
	}
	return Request{Method: http.MethodPost, URL: url, Headers: baseHeaders(c, "application/json"), Body: body}, nil
}

// escapeTelegram 只转义 Telegram HTML 模式要求的三个字符
func escapeTelegram(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

// FormatNtfy 渲染 ntfy 纯文本推送
func FormatNtfy(cfg map[string]any, c Context) (Request, error) {
	url, err := requireURL(cfg, "url")
	if err != nil {
		return Request{}, err
	}

	var lines []string
	for _, f := range VisibleFields(c.Body) {
		lines = append(lines, fmt.Sprintf("%s: %s", Label(f.Key), FormatValue(f.Value, DefaultMaxLen)))
	}

	headers := baseHeaders(c, "")
	headers["Title"] = c.Title()
	headers["Tags"] = "incoming_envelope"
	headers["Priority"] = "default"
	if p, ok := ntfyPriority(cfg["priority"]); ok {
		headers["Priority"] = strconv.Itoa(p)
	}

	return Request{Method: http.MethodPost, URL: url, Headers: headers, Body: []byte(strings.Join(lines, "\n"))}, nil
}

func ntfyPriority(v any) (int, bool) {
	var p int
	switch val := v.(type) {
	case float64:
		p = int(val)
	case int:
		p = val
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return 0, false
		}
		p = int(n)
	case string:
		n, err := strconv.Atoi(val)
		if err != nil {
			return 0, false
		}
		p = n
	default:
		return 0, false
	}
	return p, p >= 1 && p <= 5
}

// FormatWebhook 原样转发请求体（去除内部字段），支持自定义请求头
func FormatWebhook(cfg map[string]any, c Context) (Request, error) {
	url, err := requireURL(cfg, "url", "webhook_url")
	if err != nil {
		return Request{}, err
	}

	body, err := json.Marshal(CleanBody(c.Body))
	if err != nil {
		return Request{}, err
	}

	headers := baseHeaders(c, "application/json")
	if custom, ok := cfg["custom_headers"].(map[string]any); ok {
		for k, v := range custom {
			headers[http.CanonicalHeaderKey(k)] = primitiveString(v)
		}
	}
	return Request{Method: http.MethodPost, URL: url, Headers: headers, Body: body}, nil
}

// CleanBody 返回去除内部字段后的请求体副本，保留空值
func CleanBody(body *domain.Payload) *domain.Payload {
	out := domain.NewPayload()
	body.Range(func(k string, v any) bool {
		if _, skip := skipKeys[k]; !skip {
			out.Set(k, v)
		}
		return true
	})
	return out
}
