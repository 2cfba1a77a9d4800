package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"hookforms/backend/internal/monitoring"
	"hookforms/backend/internal/storage"
)

// RetentionService 定期删除过期事件
type RetentionService struct {
	events  storage.EventRepository
	maxAge  time.Duration
	metrics *monitoring.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewRetentionService 创建事件清理服务，days 不大于 0 时使用 30 天
func NewRetentionService(events storage.EventRepository, days int, metrics *monitoring.Metrics, log *zap.Logger) *RetentionService {
	if log == nil {
		log = zap.NewNop()
	}
	if days <= 0 {
		days = 30
	}
	return &RetentionService{
		events:  events,
		maxAge:  time.Duration(days) * 24 * time.Hour,
		metrics: metrics,
		log:     log.Named("retention"),
		now:     time.Now,
	}
}

// Purge 删除早于保留期限的事件
func (s *RetentionService) Purge(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.maxAge)
	n, err := s.events.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.RecordEventsPurged(n)
	}
	return n, nil
}

// Run 按固定间隔执行清理，直到 ctx 结束
func (s *RetentionService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("starting event retention task",
		zap.Duration("interval", interval),
		zap.Duration("max_age", s.maxAge))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("event retention task stopped")
			return
		case <-ticker.C:
			count, err := s.Purge(ctx)
			if err != nil {
				s.log.Error("failed to purge expired events", zap.Error(err))
			} else if count > 0 {
				s.log.Info("expired events purged", zap.Int64("count", count))
			}
		}
	}
}
