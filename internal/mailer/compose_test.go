package mailer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageBytes(t *testing.T) {
	msg := &Message{
		FromName: "Acme Forms",
		From:     "noreply@example.com",
		To:       "ops@example.com",
		Subject:  "[contact] from Jane",
		HTML:     "<h2>New</h2><p>Hello <a href=\"mailto:jane@example.com\">reply</a></p>",
		Date:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	raw, err := msg.Bytes()
	require.NoError(t, err)
	out := string(raw)

	assert.Contains(t, out, "Subject: [contact] from Jane")
	assert.Contains(t, out, `"Acme Forms" <noreply@example.com>`)
	assert.Contains(t, out, "To: <ops@example.com>")
	assert.Contains(t, strings.ToLower(out), "message-id: <")
	assert.Contains(t, out, "multipart/alternative")
	assert.Contains(t, out, "text/plain")
	assert.Contains(t, out, "text/html")
}

func TestHTMLToText(t *testing.T) {
	t.Run("空字符串", func(t *testing.T) {
		text, err := HTMLToText("")
		require.NoError(t, err)
		assert.Empty(t, text)
	})

	t.Run("链接保留地址", func(t *testing.T) {
		text, err := HTMLToText(`<p>Reply <a href="mailto:a@b.c">here</a></p>`)
		require.NoError(t, err)
		assert.Contains(t, text, "here (mailto:a@b.c)")
	})

	t.Run("忽略样式和脚本", func(t *testing.T) {
		text, err := HTMLToText(`<style>p{color:red}</style><script>x()</script><p>Body</p>`)
		require.NoError(t, err)
		assert.Equal(t, "Body", strings.TrimSpace(text))
	})
}
