package domain

import (
	"fmt"
	"strings"
	"time"
)

// DefaultSenderName 未配置发件人名称时使用的默认值
const DefaultSenderName = "HookForms"

// Inbox 收件箱，按 slug 路由的 webhook 接收端点
type Inbox struct {
	ID                 string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Slug               string    `json:"slug" gorm:"type:varchar(100);uniqueIndex;not null"`
	Description        string    `json:"description,omitempty" gorm:"type:varchar(500)"`
	ForwardURL         string    `json:"forward_url,omitempty" gorm:"type:text"`              // 旧版单一转发地址
	NotifyEmail        string    `json:"notify_email,omitempty" gorm:"type:varchar(500)"`     // 旧版通知邮箱，逗号分隔
	EmailSubjectPrefix string    `json:"email_subject_prefix,omitempty" gorm:"type:varchar(200)"`
	SenderName         string    `json:"sender_name,omitempty" gorm:"type:varchar(200)"`
	TurnstileSecret    string    `json:"-" gorm:"type:varchar(200)"`
	IsActive           bool      `json:"is_active" gorm:"not null"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Inbox) TableName() string { return "webhook_inboxes" }

// SubjectPrefix 返回通知标题前缀，默认 "[slug]"
func (i *Inbox) SubjectPrefix() string {
	if i.EmailSubjectPrefix != "" {
		return i.EmailSubjectPrefix
	}
	return fmt.Sprintf("[%s]", i.Slug)
}

// DisplayName 返回发件人显示名称
func (i *Inbox) DisplayName() string {
	if i.SenderName != "" {
		return i.SenderName
	}
	return DefaultSenderName
}

// HasTurnstile 是否启用了 Turnstile 人机校验
func (i *Inbox) HasTurnstile() bool {
	return i.TurnstileSecret != ""
}

// NotifyRecipients 解析旧版逗号分隔的通知邮箱
func (i *Inbox) NotifyRecipients() []string {
	return SplitAddressList(i.NotifyEmail)
}

// SplitAddressList 按逗号拆分地址列表并去除空白
func SplitAddressList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
