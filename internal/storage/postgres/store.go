package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"hookforms/backend/internal/config"
	"hookforms/backend/internal/domain"
)

// Store 基于 GORM 的关系型存储实现，支持 PostgreSQL、MySQL 和 SQLite
type Store struct {
	db *gorm.DB
}

// Open 按配置的数据库类型创建存储实例
func Open(cfg config.DatabaseConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	store, err := NewStoreWithDialector(dialector)
	if err != nil {
		return nil, err
	}

	sqlDB, err := store.db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return store, nil
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.APIKey{},
		&domain.Inbox{},
		&domain.Channel{},
		&domain.EmailProvider{},
		&domain.Event{},
	)
}

// ========== API Key ==========

// CreateAPIKey 保存 API 密钥
func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return translate(s.db.WithContext(ctx).Create(key).Error)
}

// GetAPIKey 根据 ID 获取 API 密钥
func (s *Store) GetAPIKey(ctx context.Context, id string) (*domain.APIKey, error) {
	var key domain.APIKey
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&key).Error; err != nil {
		return nil, translate(err)
	}
	return &key, nil
}

// ListActiveAPIKeysByPrefix 列出指定前缀的启用密钥
func (s *Store) ListActiveAPIKeysByPrefix(ctx context.Context, prefix string) ([]*domain.APIKey, error) {
	var keys []*domain.APIKey
	err := s.db.WithContext(ctx).
		Where("key_prefix = ? AND is_active = ?", prefix, true).
		Find(&keys).Error
	return keys, err
}

// ListActiveAPIKeysWithoutPrefix 列出尚未记录前缀的旧版密钥
func (s *Store) ListActiveAPIKeysWithoutPrefix(ctx context.Context) ([]*domain.APIKey, error) {
	var keys []*domain.APIKey
	err := s.db.WithContext(ctx).
		Where("key_prefix IS NULL AND is_active = ?", true).
		Find(&keys).Error
	return keys, err
}

// ListAPIKeys 分页列出所有密钥
func (s *Store) ListAPIKeys(ctx context.Context, limit, offset int) ([]*domain.APIKey, int64, error) {
	var (
		keys  []*domain.APIKey
		total int64
	)
	db := s.db.WithContext(ctx).Model(&domain.APIKey{})
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Order("created_at DESC").Limit(limit).Offset(offset).Find(&keys).Error
	return keys, total, err
}

// TouchAPIKey 更新最后使用时间，并在前缀为空时补写前缀
func (s *Store) TouchAPIKey(ctx context.Context, id string, usedAt time.Time, backfillPrefix *string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.APIKey{}).Where("id = ?", id).Update("last_used_at", usedAt)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		if backfillPrefix == nil {
			return nil
		}
		return tx.Model(&domain.APIKey{}).
			Where("id = ? AND key_prefix IS NULL", id).
			Update("key_prefix", *backfillPrefix).Error
	})
}

// DeactivateAPIKey 停用密钥
func (s *Store) DeactivateAPIKey(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&domain.APIKey{}).Where("id = ?", id).Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ========== 收件箱 ==========

// CreateInbox 创建收件箱
func (s *Store) CreateInbox(ctx context.Context, inbox *domain.Inbox) error {
	return translate(s.db.WithContext(ctx).Create(inbox).Error)
}

// GetInboxBySlug 根据 slug 获取收件箱
func (s *Store) GetInboxBySlug(ctx context.Context, slug string) (*domain.Inbox, error) {
	var inbox domain.Inbox
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&inbox).Error; err != nil {
		return nil, translate(err)
	}
	return &inbox, nil
}

// GetActiveInboxBySlug 获取启用状态的收件箱
func (s *Store) GetActiveInboxBySlug(ctx context.Context, slug string) (*domain.Inbox, error) {
	var inbox domain.Inbox
	err := s.db.WithContext(ctx).Where("slug = ? AND is_active = ?", slug, true).First(&inbox).Error
	if err != nil {
		return nil, translate(err)
	}
	return &inbox, nil
}

// ListInboxes 分页列出收件箱
func (s *Store) ListInboxes(ctx context.Context, limit, offset int) ([]*domain.Inbox, int64, error) {
	var (
		inboxes []*domain.Inbox
		total   int64
	)
	db := s.db.WithContext(ctx).Model(&domain.Inbox{})
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Order("created_at DESC").Limit(limit).Offset(offset).Find(&inboxes).Error
	return inboxes, total, err
}

// UpdateInbox 更新收件箱
func (s *Store) UpdateInbox(ctx context.Context, inbox *domain.Inbox) error {
	res := s.db.WithContext(ctx).Model(inbox).Select("*").Omit("created_at").Updates(inbox)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteInbox 删除收件箱及其关联数据
func (s *Store) DeleteInbox(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("inbox_id = ?", id).Delete(&domain.Event{}).Error; err != nil {
			return err
		}
		if err := tx.Where("inbox_id = ?", id).Delete(&domain.Channel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("inbox_id = ?", id).Delete(&domain.EmailProvider{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.Inbox{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

// ========== 通知渠道 ==========

// CreateChannel 创建通知渠道
func (s *Store) CreateChannel(ctx context.Context, ch *domain.Channel) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&domain.Inbox{}).Where("id = ?", ch.InboxID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrNotFound
		}
		return translate(tx.Create(ch).Error)
	})
}

// GetChannel 获取收件箱下的渠道
func (s *Store) GetChannel(ctx context.Context, inboxID, id string) (*domain.Channel, error) {
	var ch domain.Channel
	err := s.db.WithContext(ctx).Where("id = ? AND inbox_id = ?", id, inboxID).First(&ch).Error
	if err != nil {
		return nil, translate(err)
	}
	return &ch, nil
}

// ListChannels 列出收件箱的全部渠道
func (s *Store) ListChannels(ctx context.Context, inboxID string) ([]*domain.Channel, error) {
	var chans []*domain.Channel
	err := s.db.WithContext(ctx).Where("inbox_id = ?", inboxID).Order("created_at ASC").Find(&chans).Error
	return chans, err
}

// ListActiveChannels 列出收件箱的启用渠道
func (s *Store) ListActiveChannels(ctx context.Context, inboxID string) ([]*domain.Channel, error) {
	var chans []*domain.Channel
	err := s.db.WithContext(ctx).
		Where("inbox_id = ? AND is_active = ?", inboxID, true).
		Order("created_at ASC").
		Find(&chans).Error
	return chans, err
}

// UpdateChannel 更新渠道
func (s *Store) UpdateChannel(ctx context.Context, ch *domain.Channel) error {
	res := s.db.WithContext(ctx).Model(ch).
		Where("inbox_id = ?", ch.InboxID).
		Select("type", "label", "config", "is_active").
		Updates(ch)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteChannel 删除渠道
func (s *Store) DeleteChannel(ctx context.Context, inboxID, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND inbox_id = ?", id, inboxID).Delete(&domain.Channel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ========== 邮件服务商 ==========

func scoped(db *gorm.DB, inboxID *string) *gorm.DB {
	if inboxID == nil {
		return db.Where("inbox_id IS NULL")
	}
	return db.Where("inbox_id = ?", *inboxID)
}

// GetActiveProvider 获取作用域内启用的服务商
func (s *Store) GetActiveProvider(ctx context.Context, inboxID *string) (*domain.EmailProvider, error) {
	var p domain.EmailProvider
	err := scoped(s.db.WithContext(ctx), inboxID).Where("is_active = ?", true).First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// ReplaceProvider 在事务中删除同作用域的旧记录后写入新记录
func (s *Store) ReplaceProvider(ctx context.Context, p *domain.EmailProvider) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if p.InboxID != nil {
			var n int64
			if err := tx.Model(&domain.Inbox{}).Where("id = ?", *p.InboxID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return domain.ErrNotFound
			}
		}
		if err := scoped(tx, p.InboxID).Delete(&domain.EmailProvider{}).Error; err != nil {
			return err
		}
		return translate(tx.Create(p).Error)
	})
}

// DeleteProvider 删除作用域内的服务商
func (s *Store) DeleteProvider(ctx context.Context, inboxID *string) error {
	return scoped(s.db.WithContext(ctx), inboxID).Delete(&domain.EmailProvider{}).Error
}

// ========== 事件 ==========

// AppendEvent 写入事件
func (s *Store) AppendEvent(ctx context.Context, ev *domain.Event) error {
	return translate(s.db.WithContext(ctx).Create(ev).Error)
}

// ListEvents 分页列出事件，最新的在前
func (s *Store) ListEvents(ctx context.Context, inboxID string, limit, offset int) ([]*domain.Event, int64, error) {
	var (
		events []*domain.Event
		total  int64
	)
	db := s.db.WithContext(ctx).Model(&domain.Event{}).Where("inbox_id = ?", inboxID)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Order("received_at DESC").Limit(limit).Offset(offset).Find(&events).Error
	return events, total, err
}

// DeleteEventsBefore 删除早于 cutoff 的事件
func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("received_at < ?", cutoff).Delete(&domain.Event{})
	return res.RowsAffected, res.Error
}

// ========== 工具方法 ==========

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连接
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// translate 将驱动错误转换为领域错误
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	if isDuplicateKey(err) {
		return fmt.Errorf("%w: %v", domain.ErrAlreadyExists, err)
	}
	return err
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
