package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookforms/backend/internal/channels"
	"hookforms/backend/internal/domain"
)

func TestEmailSubject(t *testing.T) {
	inbox := &domain.Inbox{Slug: "contact"}

	t.Run("带提交者姓名", func(t *testing.T) {
		c := channels.NewContext(inbox, domain.PayloadFromPairs("name", "Jane"))
		assert.Equal(t, "[contact] from Jane", EmailSubject(c))
	})

	t.Run("没有姓名", func(t *testing.T) {
		c := channels.NewContext(inbox, domain.PayloadFromPairs("message", "hi"))
		assert.Equal(t, "[contact] New Submission", EmailSubject(c))
	})

	t.Run("自定义前缀", func(t *testing.T) {
		custom := &domain.Inbox{Slug: "contact", EmailSubjectPrefix: "[Site]"}
		c := channels.NewContext(custom, domain.PayloadFromPairs("name", ""))
		assert.Equal(t, "[Site] New Submission", EmailSubject(c))
	})
}

func TestRenderEmail(t *testing.T) {
	inbox := &domain.Inbox{Slug: "contact", SenderName: "Acme"}

	t.Run("字段值被转义", func(t *testing.T) {
		body := domain.PayloadFromPairs(
			"name", "<b>Jane</b>",
			"email", "jane@example.com",
			"first_name", "<script>alert(1)</script>",
			"cf-turnstile-response", "token",
			"empty", "",
		)
		html, err := RenderEmail(channels.NewContext(inbox, body))
		require.NoError(t, err)

		assert.Contains(t, html, "&lt;script&gt;alert(1)&lt;/script&gt;")
		assert.NotContains(t, html, "<script>")
		assert.Contains(t, html, "First Name")
		assert.NotContains(t, html, "Cf-Turnstile-Response")
		assert.NotContains(t, html, ">Empty<")
		assert.Contains(t, html, `href="mailto:jane@example.com"`)
		assert.Contains(t, html, "Reply to &lt;b&gt;Jane&lt;/b&gt;")
		assert.Contains(t, html, "Delivered by Acme &middot;")
		assert.Contains(t, html, "/hooks/contact</code>")
		assert.Contains(t, html, "#1a1a2e")
	})

	t.Run("没有邮箱时不显示回复按钮", func(t *testing.T) {
		html, err := RenderEmail(channels.NewContext(inbox, domain.PayloadFromPairs("message", "hi")))
		require.NoError(t, err)
		assert.NotContains(t, html, "Reply to")
		assert.Contains(t, html, "[contact] New Submission")
	})
}
