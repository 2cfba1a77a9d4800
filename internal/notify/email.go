package notify

import (
	"bytes"
	"html/template"

	"hookforms/backend/internal/channels"
)

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="margin:0;padding:0;background:#f4f5f7;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,Helvetica,Arial,sans-serif;">
  <table width="100%" cellpadding="0" cellspacing="0" style="background:#f4f5f7;padding:32px 0;">
    <tr><td align="center">
      <table width="600" cellpadding="0" cellspacing="0" style="background:#ffffff;border-radius:8px;overflow:hidden;box-shadow:0 2px 8px rgba(0,0,0,0.08);">
        <tr>
          <td style="background:#1a1a2e;padding:24px 32px;">
            <h1 style="margin:0;color:#ffffff;font-size:20px;font-weight:600;">{{.Heading}}</h1>
          </td>
        </tr>
        <tr>
          <td style="padding:24px 32px;">
            <p style="margin:0 0 16px;color:#666;font-size:14px;">A new form submission was received:</p>
            <table width="100%" cellpadding="0" cellspacing="0" style="border:1px solid #eee;border-radius:6px;overflow:hidden;">
              {{- range .Rows}}
              <tr><td style="padding:10px 14px;font-weight:600;color:#555;white-space:nowrap;vertical-align:top;border-bottom:1px solid #eee;">{{.Label}}</td><td style="padding:10px 14px;color:#222;border-bottom:1px solid #eee;">{{.Value}}</td></tr>
              {{- end}}
            </table>
          </td>
        </tr>
        {{- if .ReplyTo}}
        <tr><td style="padding:0 32px 24px;"><a href="{{.ReplyTo}}" style="display:inline-block;padding:10px 20px;background:#1a1a2e;color:#fff;text-decoration:none;border-radius:5px;font-size:14px;">Reply to {{.Name}}</a></td></tr>
        {{- end}}
        <tr>
          <td style="padding:16px 32px;background:#fafafa;border-top:1px solid #eee;">
            <p style="margin:0;color:#999;font-size:12px;">Delivered by {{.Sender}} &middot; <code style="background:#eee;padding:2px 6px;border-radius:3px;font-size:11px;">/hooks/{{.Slug}}</code></p>
          </td>
        </tr>
      </table>
    </td></tr>
  </table>
</body>
</html>`))

type emailRow struct {
	Label string
	Value string
}

type emailView struct {
	Heading string
	Rows    []emailRow
	ReplyTo string
	Name    string
	Sender  string
	Slug    string
}

// submitterName 请求体中 name 字段的展示值，没有时为空
func submitterName(c channels.Context) string {
	v, ok := c.Body.Get("name")
	if !ok || !channels.Truthy(v) {
		return ""
	}
	return channels.FormatValue(v, channels.DefaultMaxLen)
}

// subjectDetail "from {name}" 或 "New Submission"
func subjectDetail(c channels.Context) string {
	if name := submitterName(c); name != "" {
		return "from " + name
	}
	return "New Submission"
}

// EmailSubject 通知邮件标题
func EmailSubject(c channels.Context) string {
	return c.SubjectPrefix + " " + subjectDetail(c)
}

// RenderEmail 渲染通知邮件 HTML，所有字段值都经过转义
func RenderEmail(c channels.Context) (string, error) {
	view := emailView{
		Heading: EmailSubject(c),
		Sender:  c.SenderName,
		Slug:    c.Slug,
		Name:    submitterName(c),
	}
	if view.Name == "" {
		view.Name = "Unknown"
	}
	for _, f := range channels.VisibleFields(c.Body) {
		view.Rows = append(view.Rows, emailRow{
			Label: channels.Label(f.Key),
			Value: channels.FormatValue(f.Value, channels.DefaultMaxLen),
		})
	}
	if v, ok := c.Body.Get("email"); ok && channels.Truthy(v) {
		view.ReplyTo = "mailto:" + channels.FormatValue(v, channels.DefaultMaxLen)
	}

	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}
