package domain

import "time"

// ProviderType 邮件服务商类型（封闭集合）
type ProviderType string

const (
	ProviderGmail    ProviderType = "gmail"
	ProviderResend   ProviderType = "resend"
	ProviderSendGrid ProviderType = "sendgrid"
	ProviderSMTP     ProviderType = "smtp"
)

// ProviderTypes 所有合法的服务商类型
var ProviderTypes = []ProviderType{ProviderGmail, ProviderResend, ProviderSendGrid, ProviderSMTP}

// Valid 是否为合法服务商类型
func (t ProviderType) Valid() bool {
	for _, pt := range ProviderTypes {
		if pt == t {
			return true
		}
	}
	return false
}

// EmailProvider 邮件发送服务商配置。InboxID 为空表示全局默认。
// 每个作用域最多一个启用的服务商，写入时先删后插。
type EmailProvider struct {
	ID        string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	InboxID   *string        `json:"inbox_id" gorm:"type:varchar(36);uniqueIndex"`
	Type      ProviderType   `json:"type" gorm:"type:varchar(50);not null"`
	Config    map[string]any `json:"config" gorm:"serializer:json;type:text"`
	IsActive  bool           `json:"is_active" gorm:"not null"`
	CreatedAt time.Time      `json:"created_at"`
}

// TableName 指定表名
func (EmailProvider) TableName() string { return "email_providers" }

// IsGlobal 是否为全局服务商
func (p *EmailProvider) IsGlobal() bool {
	return p.InboxID == nil
}
