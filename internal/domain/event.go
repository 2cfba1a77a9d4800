package domain

import "time"

// Event 收到的一次 webhook 调用，只写一次
type Event struct {
	ID          string            `json:"id" gorm:"primaryKey;type:varchar(36)"`
	InboxID     string            `json:"inbox_id" gorm:"type:varchar(36);index;not null"`
	Method      string            `json:"method" gorm:"type:varchar(10);not null"`
	Headers     map[string]string `json:"headers" gorm:"serializer:json;type:text"`
	Body        *Payload          `json:"body" gorm:"serializer:json;type:text"`
	QueryParams map[string]string `json:"query_params" gorm:"serializer:json;type:text"`
	SourceIP    string            `json:"source_ip,omitempty" gorm:"type:varchar(45)"`
	ReceivedAt  time.Time         `json:"received_at" gorm:"index;not null"`
}

// TableName 指定表名
func (Event) TableName() string { return "webhook_events" }
