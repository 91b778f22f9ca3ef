// Package entitlement は決済完了イベントを受講権に変換する。
//
// 受講権は「ユーザーの購入済み講座集合に講座が含まれる」かつ
// 「講座の受講者集合にユーザーが含まれる」ことで表される。
// 2つの集合は別々の行に対する原子的な更新で反映し、どちらか一方だけが
// 反映された状態は再送イベントまたは修復ジョブで解消する。
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/coursemart/internal/metrics"
	"github.com/hitoshi/coursemart/internal/model"
	"github.com/hitoshi/coursemart/internal/repository"
)

// Outcome は照合結果の種別。
type Outcome string

const (
	// OutcomeGranted は今回の照合で少なくとも一方の集合を更新した。
	OutcomeGranted Outcome = "granted"
	// OutcomeAlreadyGranted は両方の集合に反映済みで何もしなかった。
	OutcomeAlreadyGranted Outcome = "already_granted"
	// OutcomeRejected は参照先が存在しないなど、再試行しても解決しない。
	OutcomeRejected Outcome = "rejected"
	// OutcomeIgnored は対象外のイベント種別、または未決済のセッション。
	OutcomeIgnored Outcome = "ignored"
)

// outcomeError はWebhookイベントログに記録する一時障害の結果。
const outcomeError = "error"

// Result は照合結果。RejectedとIgnoredの場合はReasonに理由が入る。
type Result struct {
	Outcome Outcome
	Reason  string
}

// GrantRequest は受講権付与の入力。SessionID以降は購入記録の補足情報で、空でもよい。
type GrantRequest struct {
	UserID      string
	CourseID    string
	SessionID   string
	AmountMinor int64
	Currency    string
}

// Reconciler は検証済みの決済イベントを受講権に反映する。
type Reconciler struct {
	users     repository.UserRepository
	courses   repository.CourseRepository
	purchases repository.PurchaseRepository
	events    repository.WebhookEventRepository
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// NewReconciler はReconcilerの新しいインスタンスを生成する。
// eventsがnilの場合はイベントログを記録しない。
func NewReconciler(
	users repository.UserRepository,
	courses repository.CourseRepository,
	purchases repository.PurchaseRepository,
	events repository.WebhookEventRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Reconciler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Reconciler{
		users:     users,
		courses:   courses,
		purchases: purchases,
		events:    events,
		metrics:   collector,
		logger:    logger,
	}
}

// Reconcile は検証済みイベントを照合する。
// 同じイベントを何度適用しても1回適用した場合と同じ状態になる。
// エラーは永続化の一時障害の場合のみ返し、呼び出し元は再送を要求すべきである。
func (r *Reconciler) Reconcile(ctx context.Context, event *model.PaymentEvent) (Result, error) {
	result, err := r.reconcile(ctx, event)

	outcome := string(result.Outcome)
	if err != nil {
		outcome = outcomeError
	}
	r.metrics.RecordWebhookEvent(string(event.Kind), outcome)
	r.recordEvent(ctx, event, outcome)

	return result, err
}

func (r *Reconciler) reconcile(ctx context.Context, event *model.PaymentEvent) (Result, error) {
	if event.Checkout == nil {
		r.logger.Info("webhook event ignored",
			slog.String("event_id", event.ID),
			slog.String("kind", string(event.Kind)),
		)
		return Result{Outcome: OutcomeIgnored, Reason: "unhandled event kind"}, nil
	}

	c := event.Checkout
	if !c.Paid {
		// 遅延決済はasync_payment_succeededで改めて通知される
		r.logger.Info("checkout completed without payment; waiting for async confirmation",
			slog.String("event_id", event.ID),
			slog.String("session_id", c.SessionID),
		)
		return Result{Outcome: OutcomeIgnored, Reason: "payment not yet settled"}, nil
	}

	return r.Grant(ctx, GrantRequest{
		UserID:      c.UserID,
		CourseID:    c.CourseID,
		SessionID:   c.SessionID,
		AmountMinor: c.AmountTotal,
		Currency:    c.Currency,
	})
}

// Grant は(user, course)の受講権を冪等に付与する。
// 購入記録を先に確定し、その後ユーザー側と講座側の集合をそれぞれ独立に更新する。
// 一方の更新に失敗しても他方は適用し、失敗はエラーとして返す。
func (r *Reconciler) Grant(ctx context.Context, req GrantRequest) (Result, error) {
	result, err := r.grant(ctx, req)
	if err != nil {
		r.metrics.RecordGrant(outcomeError)
	} else {
		r.metrics.RecordGrant(string(result.Outcome))
	}
	return result, err
}

func (r *Reconciler) grant(ctx context.Context, req GrantRequest) (Result, error) {
	user, err := r.users.FindByID(ctx, req.UserID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return r.reject(req, model.NewReconciliationNotFoundError("user", req.UserID)), nil
	}

	course, err := r.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load course: %w", err)
	}
	if course == nil {
		return r.reject(req, model.NewReconciliationNotFoundError("course", req.CourseID)), nil
	}

	inUserPurchases := user.HasPurchased(course.ID)
	inCourseStudents := course.HasStudent(user.ID)
	if inUserPurchases && inCourseStudents {
		r.logger.Info("entitlement already granted",
			slog.String("user_id", user.ID),
			slog.String("course_id", course.ID),
		)
		return Result{Outcome: OutcomeAlreadyGranted}, nil
	}

	err = r.purchases.RecordPaid(ctx, &model.Purchase{
		UserID:      user.ID,
		CourseID:    course.ID,
		SessionID:   req.SessionID,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
	})
	if errors.Is(err, repository.ErrReferenceNotFound) {
		return r.reject(req, model.NewReconciliationNotFoundError("user or course", user.ID+"/"+course.ID)), nil
	}
	if err != nil {
		r.logger.Error("failed to record purchase",
			slog.String("user_id", user.ID),
			slog.String("course_id", course.ID),
			slog.String("error", err.Error()),
		)
		return Result{}, err
	}

	var errs []error
	if !inUserPurchases {
		if _, err := r.users.AddPurchasedCourse(ctx, user.ID, course.ID); err != nil {
			errs = append(errs, fmt.Errorf("add course to user: %w", err))
		}
	}
	if !inCourseStudents {
		if _, err := r.courses.AddStudent(ctx, course.ID, user.ID); err != nil {
			errs = append(errs, fmt.Errorf("add student to course: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		r.logger.Error("entitlement partially applied",
			slog.String("user_id", user.ID),
			slog.String("course_id", course.ID),
			slog.String("error", err.Error()),
		)
		return Result{}, err
	}

	r.logger.Info("entitlement granted",
		slog.String("user_id", user.ID),
		slog.String("course_id", course.ID),
		slog.Bool("user_side_applied", !inUserPurchases),
		slog.Bool("course_side_applied", !inCourseStudents),
	)
	return Result{Outcome: OutcomeGranted}, nil
}

func (r *Reconciler) reject(req GrantRequest, reason *model.APIError) Result {
	r.logger.Warn("entitlement rejected",
		slog.String("user_id", req.UserID),
		slog.String("course_id", req.CourseID),
		slog.String("session_id", req.SessionID),
		slog.String("reason", reason.Message),
	)
	return Result{Outcome: OutcomeRejected, Reason: reason.Code}
}

// recordEvent はイベントの処理結果をログテーブルに記録する。失敗しても応答には影響させない。
func (r *Reconciler) recordEvent(ctx context.Context, event *model.PaymentEvent, outcome string) {
	if r.events == nil || event.ID == "" {
		return
	}

	err := r.events.Record(ctx, &model.WebhookEvent{
		EventID:    event.ID,
		EventType:  string(event.Kind),
		Outcome:    outcome,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		r.logger.Warn("failed to record webhook event",
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
	}
}
