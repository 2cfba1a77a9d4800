package domain

import (
	"slices"
	"time"
)

// 权限范围
const (
	ScopeWebhooks = "webhooks"
	ScopeAdmin    = "admin"
)

// AllScopes 管理员身份持有的全部权限
var AllScopes = []string{ScopeWebhooks, ScopeAdmin}

// KeyPrefixLength 用于查找的密钥前缀长度
const KeyPrefixLength = 12

// APIKey API密钥实体，只保存哈希值
type APIKey struct {
	ID         string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name       string     `json:"name" gorm:"type:varchar(255);not null"`
	KeyHash    string     `json:"-" gorm:"type:varchar(255);uniqueIndex;not null"`
	KeyPrefix  *string    `json:"key_prefix,omitempty" gorm:"type:varchar(12);index"` // 为空表示旧版记录
	Scopes     []string   `json:"scopes" gorm:"serializer:json;type:text"`
	IsActive   bool       `json:"is_active" gorm:"not null"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName 指定表名
func (APIKey) TableName() string { return "api_keys" }

// HasScope 判断密钥是否拥有指定权限，admin 权限满足任意请求
func (k *APIKey) HasScope(scope string) bool {
	if k == nil {
		return false
	}
	if slices.Contains(k.Scopes, ScopeAdmin) {
		return true
	}
	return slices.Contains(k.Scopes, scope)
}

// PrefixOf 返回用于查找的密钥前缀
func PrefixOf(secret string) string {
	if len(secret) >= KeyPrefixLength {
		return secret[:KeyPrefixLength]
	}
	return secret
}
