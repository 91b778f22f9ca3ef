// Package repair は購入記録を正として、受講関係の片側だけが反映された状態を修復するジョブを提供する。
// Webhookの再送が届かないまま一方の書き込みだけが失敗した場合でも、このジョブで最終的に揃う。
package repair

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/coursemart/internal/entitlement"
	"github.com/hitoshi/coursemart/internal/metrics"
	"github.com/hitoshi/coursemart/internal/model"
)

const (
	defaultBatchSize      = 100
	defaultMaxConcurrency = 4
)

// PurchaseLister は修復対象の購入記録を取得する。repository.PurchaseRepositoryの部分集合。
type PurchaseLister interface {
	ListIncomplete(ctx context.Context, limit int) ([]model.PurchasePair, error)
}

// Granter は(user, course)に受講権を付与する。entitlement.Reconcilerが満たす。
type Granter interface {
	Grant(ctx context.Context, req entitlement.GrantRequest) (entitlement.Result, error)
}

// Summary は1サイクルの実行結果。
type Summary struct {
	Scanned  int
	Repaired int
	Failed   int
}

// Job は修復ジョブ。
// 一定間隔のティッカーで修復対象を取得し、semaphoreパターンで並列数を制御しながら付与をやり直す。
type Job struct {
	purchases      PurchaseLister
	granter        Granter
	metrics        metrics.MetricsCollector
	logger         *slog.Logger
	batchSize      int
	maxConcurrency int
}

// NewJob はJobの新しいインスタンスを生成する。
// batchSizeが0以下の場合はデフォルト値100を使用する。
func NewJob(
	purchases PurchaseLister,
	granter Granter,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	batchSize int,
) *Job {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Job{
		purchases:      purchases,
		granter:        granter,
		metrics:        collector,
		logger:         logger,
		batchSize:      batchSize,
		maxConcurrency: defaultMaxConcurrency,
	}
}

// Start はinterval間隔で修復を実行する。起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("repair job started",
		slog.Duration("interval", interval),
		slog.Int("batch_size", j.batchSize),
	)

	j.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("repair job stopped")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *Job) runLogged(ctx context.Context) {
	if _, err := j.RunOnce(ctx); err != nil {
		j.logger.Error("repair cycle failed", slog.String("error", err.Error()))
	}
}

// RunOnce は修復対象を最大batchSize件取得し、それぞれに付与をやり直す。
// 個々の付与の失敗はSummary.Failedに数え、次のサイクルで再び対象になる。
func (j *Job) RunOnce(ctx context.Context) (Summary, error) {
	start := time.Now()

	pairs, err := j.purchases.ListIncomplete(ctx, j.batchSize)
	if err != nil {
		return Summary{}, err
	}
	if len(pairs) == 0 {
		j.logger.Debug("no purchases need repair")
		return Summary{}, nil
	}

	var repaired, failed atomic.Int64
	sem := make(chan struct{}, j.maxConcurrency)
	var wg sync.WaitGroup

	for _, pair := range pairs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}

		go func(p model.PurchasePair) {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := j.granter.Grant(ctx, entitlement.GrantRequest{UserID: p.UserID, CourseID: p.CourseID})
			switch {
			case err != nil:
				failed.Add(1)
				j.logger.Error("failed to repair entitlement",
					slog.String("user_id", p.UserID),
					slog.String("course_id", p.CourseID),
					slog.String("error", err.Error()),
				)
			case result.Outcome == entitlement.OutcomeRejected:
				failed.Add(1)
			case result.Outcome == entitlement.OutcomeGranted:
				repaired.Add(1)
				j.logger.Info("entitlement repaired",
					slog.String("user_id", p.UserID),
					slog.String("course_id", p.CourseID),
				)
			}
		}(pair)
	}

	wg.Wait()

	summary := Summary{
		Scanned:  len(pairs),
		Repaired: int(repaired.Load()),
		Failed:   int(failed.Load()),
	}
	j.metrics.RecordRepair(summary.Repaired, summary.Failed)

	j.logger.Info("repair cycle completed",
		slog.Int("scanned", summary.Scanned),
		slog.Int("repaired", summary.Repaired),
		slog.Int("failed", summary.Failed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return summary, nil
}
