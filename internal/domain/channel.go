package domain

import "time"

// ChannelType 通知渠道类型（封闭集合）
type ChannelType string

const (
	ChannelEmail    ChannelType = "email"
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
	ChannelTeams    ChannelType = "teams"
	ChannelTelegram ChannelType = "telegram"
	ChannelNtfy     ChannelType = "ntfy"
	ChannelWebhook  ChannelType = "webhook"
)

// ChannelTypes 所有合法的渠道类型
var ChannelTypes = []ChannelType{
	ChannelEmail, ChannelDiscord, ChannelSlack, ChannelTeams,
	ChannelTelegram, ChannelNtfy, ChannelWebhook,
}

// Valid 是否为合法渠道类型
func (t ChannelType) Valid() bool {
	for _, ct := range ChannelTypes {
		if ct == t {
			return true
		}
	}
	return false
}

// Channel 收件箱的一个出站通知目的地
type Channel struct {
	ID        string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	InboxID   string         `json:"inbox_id" gorm:"type:varchar(36);index;not null"`
	Type      ChannelType    `json:"type" gorm:"type:varchar(50);not null"`
	Label     string         `json:"label,omitempty" gorm:"type:varchar(200)"`
	Config    map[string]any `json:"config" gorm:"serializer:json;type:text"`
	IsActive  bool           `json:"is_active" gorm:"not null"`
	CreatedAt time.Time      `json:"created_at"`
}

// TableName 指定表名
func (Channel) TableName() string { return "notification_channels" }

// ConfigString 读取字符串类型的配置项
func (c *Channel) ConfigString(key string) string {
	if c.Config == nil {
		return ""
	}
	s, _ := c.Config[key].(string)
	return s
}
