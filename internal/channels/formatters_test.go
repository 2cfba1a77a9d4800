package channels

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookforms/backend/internal/domain"
)

func testContext() Context {
	return Context{
		Slug:          "contact",
		SubjectPrefix: "[contact]",
		SenderName:    "HookForms",
		Body: domain.PayloadFromPairs(
			"full_name", "Ada Lovelace",
			"email", "ada@example.com",
			"message", "<b>hi</b> & bye",
			"cf-turnstile-response", "secret-token",
			"blank", "",
		),
	}
}

func decode(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func TestFormatDiscord(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	now = func() time.Time { return fixed }
	t.Cleanup(func() { now = time.Now })

	req, err := FormatDiscord(map[string]any{"webhook_url": "https://discord.com/api/webhooks/1/a"}, testContext())
	require.NoError(t, err)

	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "https://discord.com/api/webhooks/1/a", req.URL)
	assert.Equal(t, "hookforms/hooks/contact", req.Headers["X-Forwarded-From"])
	assert.Equal(t, "application/json", req.Headers["Content-Type"])

	embed := decode(t, req.Body)["embeds"].([]any)[0].(map[string]any)
	assert.Equal(t, "[contact] New Submission", embed["title"])
	assert.Equal(t, float64(0xD4A843), embed["color"])
	assert.Equal(t, "2026-01-02T03:04:05Z", embed["timestamp"])
	assert.Equal(t, "hookforms/hooks/contact", embed["footer"].(map[string]any)["text"])

	fields := embed["fields"].([]any)
	require.Len(t, fields, 3)
	first := fields[0].(map[string]any)
	assert.Equal(t, "Full Name", first["name"])
	assert.Equal(t, "Ada Lovelace", first["value"])
	assert.Equal(t, true, first["inline"])

	t.Run("长字段不内联且截断到 1024", func(t *testing.T) {
		c := testContext()
		c.Body = domain.PayloadFromPairs("essay", strings.Repeat("z", 2000))
		req, err := FormatDiscord(map[string]any{"webhook_url": "https://discord.com/api/webhooks/1/a"}, c)
		require.NoError(t, err)
		f := decode(t, req.Body)["embeds"].([]any)[0].(map[string]any)["fields"].([]any)[0].(map[string]any)
		assert.Len(t, f["value"], 1024)
		assert.Equal(t, false, f["inline"])
	})

	t.Run("缺少地址", func(t *testing.T) {
		_, err := FormatDiscord(map[string]any{}, testContext())
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestFormatSlack(t *testing.T) {
	req, err := FormatSlack(map[string]any{"webhook_url": "https://hooks.slack.com/services/T/B/X"}, testContext())
	require.NoError(t, err)

	msg := decode(t, req.Body)
	assert.Equal(t, "[contact] New Submission", msg["text"])
	block := msg["blocks"].([]any)[0].(map[string]any)
	assert.Equal(t, "section", block["type"])
	text := block["text"].(map[string]any)
	assert.Equal(t, "mrkdwn", text["type"])
	assert.Equal(t, "*full name:* Ada Lovelace\n*email:* ada@example.com\n*message:* <b>hi</b> & bye", text["text"])
}

func TestFormatTeams(t *testing.T) {
	req, err := FormatTeams(map[string]any{"webhook_url": "https://x.webhook.office.com/abc"}, testContext())
	require.NoError(t, err)

	msg := decode(t, req.Body)
	assert.Equal(t, "message", msg["type"])
	att := msg["attachments"].([]any)[0].(map[string]any)
	assert.Equal(t, "application/vnd.microsoft.card.adaptive", att["contentType"])
	card := att["content"].(map[string]any)
	assert.Equal(t, "AdaptiveCard", card["type"])
	assert.Equal(t, "1.4", card["version"])

	body := card["body"].([]any)
	require.Len(t, body, 3)
	facts := body[1].(map[string]any)["facts"].([]any)
	assert.Len(t, facts, 3)
	assert.Equal(t, "hookforms/hooks/contact", body[2].(map[string]any)["text"])
}

func TestFormatTelegram(t *testing.T) {
	req, err := FormatTelegram(map[string]any{"bot_url": "https://api.telegram.org/bot123/sendMessage", "chat_id": "-100"}, testContext())
	require.NoError(t, err)

	msg := decode(t, req.Body)
	assert.Equal(t, "-100", msg["chat_id"])
	assert.Equal(t, "HTML", msg["parse_mode"])

	text := msg["text"].(string)
	assert.True(t, strings.HasPrefix(text, "<b>[contact] New Submission</b>\n\n"))
	assert.Contains(t, text, "<b>Message:</b> &lt;b&gt;hi&lt;/b&gt; &amp; bye")
	assert.True(t, strings.HasSuffix(text, "\n\n<i>hookforms/hooks/contact</i>"))
	assert.NotContains(t, text, "secret-token")

	_, err = FormatTelegram(map[string]any{"bot_url": "https://api.telegram.org/bot123/sendMessage"}, testContext())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFormatNtfy(t *testing.T) {
	req, err := FormatNtfy(map[string]any{"url": "https://ntfy.sh/topic"}, testContext())
	require.NoError(t, err)

	assert.Equal(t, "[contact] New Submission", req.Headers["Title"])
	assert.Equal(t, "incoming_envelope", req.Headers["Tags"])
	assert.Equal(t, "default", req.Headers["Priority"])
	assert.Empty(t, req.Headers["Content-Type"])
	assert.Equal(t, "Full Name: Ada Lovelace\nEmail: ada@example.com\nMessage: <b>hi</b> & bye", string(req.Body))

	req, err = FormatNtfy(map[string]any{"url": "https://ntfy.sh/topic", "priority": float64(5)}, testContext())
	require.NoError(t, err)
	assert.Equal(t, "5", req.Headers["Priority"])
}

func TestFormatWebhook(t *testing.T) {
	cfg := map[string]any{
		"url":            "https://example.com/in",
		"custom_headers": map[string]any{"Authorization": "Bearer t", "Content-Type": "application/vnd.custom+json"},
	}
	req, err := FormatWebhook(cfg, testContext())
	require.NoError(t, err)

	assert.Equal(t, "Bearer t", req.Headers["Authorization"])
	assert.Equal(t, "application/vnd.custom+json", req.Headers["Content-Type"])
	assert.Equal(t, "hookforms/hooks/contact", req.Headers["X-Forwarded-From"])
	// 保留原始顺序和空值，只去掉内部字段
	forwarded, err := domain.ParsePayload(req.Body)
	require.NoError(t, err)
	assert.Equal(t, []string{"full_name", "email", "message", "blank"}, forwarded.Keys())
	msg, _ := forwarded.Get("message")
	assert.Equal(t, "<b>hi</b> & bye", msg)
}

func TestFormatWebhook_HeaderCase(t *testing.T) {
	cfg := map[string]any{
		"url": "https://example.com/in",
		"custom_headers": map[string]any{
			"content-type":     "text/plain",
			"x-signature":      "abc",
			"X-FORWARDED-FROM": "custom",
		},
	}
	req, err := FormatWebhook(cfg, testContext())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"Content-Type":     "text/plain",
		"X-Signature":      "abc",
		"X-Forwarded-From": "custom",
	}, req.Headers)
}

func TestLookup(t *testing.T) {
	for _, ct := range domain.ChannelTypes {
		_, ok := Lookup(ct)
		assert.Equal(t, ct != domain.ChannelEmail, ok, ct)
	}
}
