package checkout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/hitoshi/coursemart/internal/lock"
	"github.com/hitoshi/coursemart/internal/metrics"
	"github.com/hitoshi/coursemart/internal/model"
	"github.com/hitoshi/coursemart/internal/payment"
	"github.com/hitoshi/coursemart/internal/security"
	"github.com/shopspring/decimal"
)

// --- モック ---

// memUserRepo はUserRepositoryのインメモリ実装。同時実行テストのためにロックで保護する。
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func (m *memUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	cp.PurchasedCourseIDs = append([]string(nil), u.PurchasedCourseIDs...)
	return &cp, nil
}

func (m *memUserRepo) SetStripeCustomerIDIfEmpty(ctx context.Context, userID, customerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.StripeCustomerID != nil {
		return false, nil
	}
	u.StripeCustomerID = &customerID
	return true, nil
}

func (m *memUserRepo) AddPurchasedCourse(ctx context.Context, userID, courseID string) (bool, error) {
	return false, errors.New("not used")
}

type mockCourseRepo struct {
	findByIDFn func(ctx context.Context, id string) (*model.Course, error)
}

func (m *mockCourseRepo) FindByID(ctx context.Context, id string) (*model.Course, error) {
	return m.findByIDFn(ctx, id)
}

func (m *mockCourseRepo) AddStudent(ctx context.Context, courseID, userID string) (bool, error) {
	return false, errors.New("not used")
}

type mockPrices struct {
	resolveFn func(ctx context.Context, price decimal.Decimal, from, to string) (int64, error)
}

func (m *mockPrices) ResolveMinorUnits(ctx context.Context, price decimal.Decimal, from, to string) (int64, error) {
	return m.resolveFn(ctx, price, from, to)
}

type mockProcessor struct {
	customers       int32
	sessions        int32
	lastSession     payment.SessionRequest
	mu              sync.Mutex
	createSessionFn func(ctx context.Context, req payment.SessionRequest) (*payment.Session, error)
}

func (m *mockProcessor) CreateCustomer(ctx context.Context, req payment.CustomerRequest) (string, error) {
	n := atomic.AddInt32(&m.customers, 1)
	return "cus_" + string(rune('0'+n)), nil
}

func (m *mockProcessor) CreateCheckoutSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error) {
	atomic.AddInt32(&m.sessions, 1)
	m.mu.Lock()
	m.lastSession = req
	m.mu.Unlock()
	if m.createSessionFn != nil {
		return m.createSessionFn(ctx, req)
	}
	return &payment.Session{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

// --- ヘルパー ---

const (
	testUserID   = "11111111-1111-1111-1111-111111111111"
	testCourseID = "22222222-2222-2222-2222-222222222222"
)

type fixture struct {
	users     *memUserRepo
	course    *model.Course
	prices    *mockPrices
	processor *mockProcessor
	service   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		users: &memUserRepo{users: map[string]*model.User{
			testUserID: {ID: testUserID, Email: "student@example.com", Name: "Student", Role: model.RoleStudent},
		}},
		course: &model.Course{
			ID:       testCourseID,
			Title:    "<b>Go入門</b>",
			Price:    decimal.NewFromInt(1000),
			Currency: "inr",
		},
		prices: &mockPrices{resolveFn: func(ctx context.Context, price decimal.Decimal, from, to string) (int64, error) {
			return 360, nil
		}},
		processor: &mockProcessor{},
	}

	courses := &mockCourseRepo{findByIDFn: func(ctx context.Context, id string) (*model.Course, error) {
		if id == f.course.ID {
			return f.course, nil
		}
		return nil, nil
	}}

	f.service = NewService(
		f.users, courses, f.prices, f.processor,
		lock.NewLocalLocker(), security.NewTextSanitizer(), metrics.Nop{},
		Config{SettlementCurrency: "usd", ClientURL: "http://localhost:3000"},
		slog.New(slog.NewJSONHandler(io.Discard, nil)),
	)
	return f
}

// --- テスト ---

func TestInitiate_CreatesCustomerAndSession(t *testing.T) {
	f := newFixture(t)

	result, err := f.service.Initiate(context.Background(), testUserID, testCourseID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SessionID != "cs_test_1" {
		t.Errorf("SessionID = %q, want cs_test_1", result.SessionID)
	}
	if result.RedirectURL == "" {
		t.Error("expected redirect URL")
	}
	if f.processor.customers != 1 {
		t.Errorf("customers created = %d, want 1", f.processor.customers)
	}

	req := f.processor.lastSession
	if req.UserID != testUserID || req.CourseID != testCourseID {
		t.Errorf("metadata = {%s %s}, want {%s %s}", req.UserID, req.CourseID, testUserID, testCourseID)
	}
	if req.UnitAmount != 360 || req.Currency != "usd" {
		t.Errorf("amount = %d %s, want 360 usd", req.UnitAmount, req.Currency)
	}
	if req.ProductName != "Go入門" {
		t.Errorf("ProductName = %q, want sanitized title", req.ProductName)
	}
	if req.SuccessURL != "http://localhost:3000/payment-success?session_id={CHECKOUT_SESSION_ID}" {
		t.Errorf("SuccessURL = %q", req.SuccessURL)
	}
	if req.CancelURL != "http://localhost:3000/payment-cancelled" {
		t.Errorf("CancelURL = %q", req.CancelURL)
	}

	stored, _ := f.users.FindByID(context.Background(), testUserID)
	if stored.CustomerID() != req.CustomerID {
		t.Errorf("cached customer = %q, session customer = %q", stored.CustomerID(), req.CustomerID)
	}
}

func TestInitiate_TwiceReusesCachedCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := f.service.Initiate(ctx, testUserID, testCourseID); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}

	if f.processor.customers != 1 {
		t.Errorf("customers created = %d, want 1", f.processor.customers)
	}
	if f.processor.sessions != 2 {
		t.Errorf("sessions created = %d, want 2", f.processor.sessions)
	}
}

func TestInitiate_ConcurrentCallsCreateOneCustomer(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.service.Initiate(context.Background(), testUserID, testCourseID); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&f.processor.customers); got != 1 {
		t.Errorf("customers created = %d, want 1", got)
	}
}

func TestInitiate_UsesExistingCustomer(t *testing.T) {
	f := newFixture(t)
	existing := "cus_existing"
	f.users.users[testUserID].StripeCustomerID = &existing

	if _, err := f.service.Initiate(context.Background(), testUserID, testCourseID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.processor.customers != 0 {
		t.Errorf("customers created = %d, want 0", f.processor.customers)
	}
	if f.processor.lastSession.CustomerID != existing {
		t.Errorf("CustomerID = %q, want %q", f.processor.lastSession.CustomerID, existing)
	}
}

func TestInitiate_Preconditions(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(f *fixture)
		userID   string
		courseID string
		wantCode string
	}{
		{
			name:     "course not found",
			userID:   testUserID,
			courseID: "33333333-3333-3333-3333-333333333333",
			wantCode: model.ErrCodeCourseNotFound,
		},
		{
			name:     "user not found",
			userID:   "44444444-4444-4444-4444-444444444444",
			courseID: testCourseID,
			wantCode: model.ErrCodeUserNotFound,
		},
		{
			name: "already in purchased set",
			setup: func(f *fixture) {
				f.users.users[testUserID].PurchasedCourseIDs = []string{testCourseID}
			},
			userID:   testUserID,
			courseID: testCourseID,
			wantCode: model.ErrCodeAlreadyEntitled,
		},
		{
			name: "already in student set",
			setup: func(f *fixture) {
				f.course.StudentIDs = []string{testUserID}
			},
			userID:   testUserID,
			courseID: testCourseID,
			wantCode: model.ErrCodeAlreadyEntitled,
		},
		{
			name: "conversion unavailable",
			setup: func(f *fixture) {
				f.prices.resolveFn = func(ctx context.Context, price decimal.Decimal, from, to string) (int64, error) {
					return 0, model.NewConversionUnavailableError(from, to)
				}
			},
			userID:   testUserID,
			courseID: testCourseID,
			wantCode: model.ErrCodeConversionUnavailable,
		},
		{
			name: "invalid price",
			setup: func(f *fixture) {
				f.prices.resolveFn = func(ctx context.Context, price decimal.Decimal, from, to string) (int64, error) {
					return 0, model.NewInvalidPriceError("0")
				}
			},
			userID:   testUserID,
			courseID: testCourseID,
			wantCode: model.ErrCodeInvalidPrice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}

			_, err := f.service.Initiate(context.Background(), tt.userID, tt.courseID)
			if !model.IsCode(err, tt.wantCode) {
				t.Fatalf("err = %v, want %s", err, tt.wantCode)
			}
			// 前提条件で失敗した場合は副作用を起こさない
			if f.processor.customers != 0 || f.processor.sessions != 0 {
				t.Errorf("side effects: customers=%d sessions=%d, want 0/0", f.processor.customers, f.processor.sessions)
			}
		})
	}
}

func TestInitiate_SessionFailureKeepsCachedCustomer(t *testing.T) {
	f := newFixture(t)
	f.processor.createSessionFn = func(ctx context.Context, req payment.SessionRequest) (*payment.Session, error) {
		return nil, model.NewUpstreamUnavailableError("stripe")
	}

	_, err := f.service.Initiate(context.Background(), testUserID, testCourseID)
	if !model.IsCode(err, model.ErrCodeUpstreamUnavailable) {
		t.Fatalf("err = %v, want UPSTREAM_UNAVAILABLE", err)
	}

	// 再試行時は保存済みの顧客を再利用する
	f.processor.createSessionFn = nil
	if _, err := f.service.Initiate(context.Background(), testUserID, testCourseID); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if f.processor.customers != 1 {
		t.Errorf("customers created = %d, want 1", f.processor.customers)
	}
}

func TestInitiate_EmptyTitleFallsBackToCourseID(t *testing.T) {
	f := newFixture(t)
	f.course.Title = "<script>alert(1)</script>"

	if _, err := f.service.Initiate(context.Background(), testUserID, testCourseID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.processor.lastSession.ProductName; got != "Course "+testCourseID {
		t.Errorf("ProductName = %q", got)
	}
}

// TestInitiate_LockWaitDeadlineIsNotUpstreamError は顧客ロックの待機中に呼び出し元の期限が切れた場合、
// Redisロックでもコンテキストのエラーがそのまま返ることを検証する。
func TestInitiate_LockWaitDeadlineIsNotUpstreamError(t *testing.T) {
	f := newFixture(t)

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	locker := lock.NewRedisLocker(client, 5*time.Second, logger)
	courses := &mockCourseRepo{findByIDFn: func(ctx context.Context, id string) (*model.Course, error) {
		return f.course, nil
	}}
	f.service = NewService(
		f.users, courses, f.prices, f.processor,
		locker, security.NewTextSanitizer(), metrics.Nop{},
		Config{SettlementCurrency: "usd", ClientURL: "http://localhost:3000"},
		logger,
	)

	// 別リクエストが顧客作成中でロックを保持している
	unlock, err := locker.Lock(context.Background(), "customer:"+testUserID)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = f.service.Initiate(ctx, testUserID, testCourseID)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
	if model.IsCode(err, model.ErrCodeUpstreamUnavailable) {
		t.Errorf("err = %v, should not be UPSTREAM_UNAVAILABLE", err)
	}
	if f.processor.customers != 0 {
		t.Errorf("customers created = %d, want 0", f.processor.customers)
	}
}
