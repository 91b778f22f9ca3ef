// Package checkout は講座購入のチェックアウトセッション作成を提供する。
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/coursemart/internal/lock"
	"github.com/hitoshi/coursemart/internal/metrics"
	"github.com/hitoshi/coursemart/internal/model"
	"github.com/hitoshi/coursemart/internal/payment"
	"github.com/hitoshi/coursemart/internal/repository"
	"github.com/hitoshi/coursemart/internal/security"
	"github.com/shopspring/decimal"
)

// PriceResolver は講座価格を決済通貨の最小単位に換算するインターフェース。
type PriceResolver interface {
	ResolveMinorUnits(ctx context.Context, price decimal.Decimal, from, to string) (int64, error)
}

// PaymentProcessor は決済事業者の顧客とセッションを作成するインターフェース。
type PaymentProcessor interface {
	CreateCustomer(ctx context.Context, req payment.CustomerRequest) (string, error)
	CreateCheckoutSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error)
}

// Config はチェックアウトの設定。
type Config struct {
	SettlementCurrency string // 決済通貨（小文字ISO 4217）
	ClientURL          string // 決済完了・キャンセル後のリダイレクト先ベースURL
}

// Result はチェックアウトセッション作成の結果。
type Result struct {
	SessionID   string
	RedirectURL string
}

// Service はチェックアウトセッション作成のサービス層。
type Service struct {
	userRepo   repository.UserRepository
	courseRepo repository.CourseRepository
	prices     PriceResolver
	processor  PaymentProcessor
	locker     lock.Locker
	sanitizer  security.TextSanitizerService
	metrics    metrics.MetricsCollector
	cfg        Config
	logger     *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	courseRepo repository.CourseRepository,
	prices PriceResolver,
	processor PaymentProcessor,
	locker lock.Locker,
	sanitizer security.TextSanitizerService,
	collector metrics.MetricsCollector,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		userRepo:   userRepo,
		courseRepo: courseRepo,
		prices:     prices,
		processor:  processor,
		locker:     locker,
		sanitizer:  sanitizer,
		metrics:    collector,
		cfg:        cfg,
		logger:     logger,
	}
}

// Initiate はユーザーが講座を購入するためのチェックアウトセッションを作成する。
// 講座・ユーザーが存在しない場合、購入済みの場合はセッションを作成せずにエラーを返す。
// 顧客IDが未作成の場合はユーザー単位のロック内で1度だけ作成してキャッシュする。
func (s *Service) Initiate(ctx context.Context, userID, courseID string) (*Result, error) {
	start := time.Now()

	result, err := s.initiate(ctx, userID, courseID)

	s.metrics.RecordCheckoutLatency(time.Since(start))
	s.metrics.RecordCheckoutSession(outcomeOf(err))
	return result, err
}

func (s *Service) initiate(ctx context.Context, userID, courseID string) (*Result, error) {
	course, err := s.courseRepo.FindByID(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("講座の取得に失敗しました: %w", err)
	}
	if course == nil {
		return nil, model.NewCourseNotFoundError(courseID)
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	// どちらか一方でも反映済みなら決済は完了している
	if user.HasPurchased(course.ID) || course.HasStudent(user.ID) {
		return nil, model.NewAlreadyEntitledError()
	}

	// 価格換算は副作用の前に行い、失敗時に顧客だけが作成されることを避ける
	amount, err := s.prices.ResolveMinorUnits(ctx, course.Price, course.Currency, s.cfg.SettlementCurrency)
	if err != nil {
		return nil, err
	}

	customerID, err := s.ensureCustomer(ctx, user)
	if err != nil {
		return nil, err
	}

	session, err := s.processor.CreateCheckoutSession(ctx, payment.SessionRequest{
		CustomerID:  customerID,
		UserID:      user.ID,
		CourseID:    course.ID,
		ProductName: s.productName(course),
		Description: s.sanitizer.PlainText(course.Description, security.MaxProductDescriptionLength),
		Currency:    s.cfg.SettlementCurrency,
		UnitAmount:  amount,
		SuccessURL:  s.cfg.ClientURL + "/payment-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   s.cfg.ClientURL + "/payment-cancelled",
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("checkout session created",
		slog.String("user_id", user.ID),
		slog.String("course_id", course.ID),
		slog.String("session_id", session.ID),
		slog.Int64("amount_minor", amount),
		slog.String("currency", s.cfg.SettlementCurrency),
	)

	return &Result{SessionID: session.ID, RedirectURL: session.URL}, nil
}

// ensureCustomer はキャッシュ済みの顧客IDを返し、未作成の場合は作成して保存する。
// ロック取得後に再読込し、待機中に他のリクエストが作成した顧客IDを再利用する。
func (s *Service) ensureCustomer(ctx context.Context, user *model.User) (string, error) {
	if id := user.CustomerID(); id != "" {
		return id, nil
	}

	unlock, err := s.locker.Lock(ctx, "customer:"+user.ID)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		s.logger.Error("failed to acquire customer lock",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return "", model.NewUpstreamUnavailableError("lock")
	}
	defer unlock()

	fresh, err := s.userRepo.FindByID(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("ユーザーの再取得に失敗しました: %w", err)
	}
	if fresh == nil {
		return "", model.NewUserNotFoundError()
	}
	if id := fresh.CustomerID(); id != "" {
		return id, nil
	}

	customerID, err := s.processor.CreateCustomer(ctx, payment.CustomerRequest{
		UserID: fresh.ID,
		Email:  fresh.Email,
		Name:   fresh.Name,
	})
	if err != nil {
		return "", err
	}
	s.metrics.RecordCustomerCreated()

	set, err := s.userRepo.SetStripeCustomerIDIfEmpty(ctx, fresh.ID, customerID)
	if err != nil {
		return "", fmt.Errorf("顧客IDの保存に失敗しました: %w", err)
	}
	if set {
		return customerID, nil
	}

	// ロック外の書き込みが先行した場合は保存済みの値を正とする
	stored, err := s.userRepo.FindByID(ctx, fresh.ID)
	if err != nil {
		return "", fmt.Errorf("ユーザーの再取得に失敗しました: %w", err)
	}
	if stored == nil || stored.CustomerID() == "" {
		return "", fmt.Errorf("顧客IDの保存結果を確認できません: user %s", fresh.ID)
	}
	s.logger.Warn("customer id already cached by a concurrent request",
		slog.String("user_id", fresh.ID),
		slog.String("discarded_customer_id", customerID),
		slog.String("customer_id", stored.CustomerID()),
	)
	return stored.CustomerID(), nil
}

// productName は決済画面に表示する商品名を返す。タイトルが空になる場合は講座IDを使う。
func (s *Service) productName(course *model.Course) string {
	name := s.sanitizer.PlainText(course.Title, security.MaxProductNameLength)
	if name == "" {
		return "Course " + course.ID
	}
	return name
}

// outcomeOf はメトリクス用の結果ラベルを返す。
func outcomeOf(err error) string {
	if err == nil {
		return "created"
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return model.ErrCodeInternal
}
