// Package payment はStripeとの連携を提供する。
// 顧客とチェックアウトセッションの作成、Webhook署名の検証を含む。
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/coursemart/internal/model"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// メタデータのキー。Webhook側で同じキーから取り出す。
const (
	MetadataUserID   = "userId"
	MetadataCourseID = "courseId"
)

// ProcessorConfig はStripeクライアントの接続設定。
type ProcessorConfig struct {
	HTTPClient *http.Client // タイムアウトはこのクライアントに設定する
	MaxRetries int
	BaseURL    string // 空の場合はStripe本番API。テストではhttptestのURLを指定する
}

// CustomerRequest は顧客作成のパラメータ。
type CustomerRequest struct {
	UserID string
	Email  string
	Name   string
}

// SessionRequest はチェックアウトセッション作成のパラメータ。
type SessionRequest struct {
	CustomerID  string
	UserID      string
	CourseID    string
	ProductName string
	Description string
	Currency    string
	UnitAmount  int64 // 決済通貨の最小単位
	SuccessURL  string
	CancelURL   string
}

// Session は作成されたチェックアウトセッション。
type Session struct {
	ID  string
	URL string
}

// Processor はStripe APIのアダプタ。
type Processor struct {
	sc     *client.API
	logger *slog.Logger
}

// NewProcessor はProcessorを生成する。
func NewProcessor(secretKey string, cfg ProcessorConfig, logger *slog.Logger) *Processor {
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        cfg.HTTPClient,
		MaxNetworkRetries: stripe.Int64(int64(cfg.MaxRetries)),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}

	sc := client.New(secretKey, stripe.NewBackendsWithConfig(backendCfg))
	return &Processor{sc: sc, logger: logger}
}

// CreateCustomer はユーザーに対応するStripe顧客を作成し、顧客IDを返す。
// 同一ユーザーの同時作成はべき等キーで1件に集約される。
func (p *Processor) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(req.Email),
		Name:  stripe.String(req.Name),
	}
	params.Context = ctx
	params.SetIdempotencyKey("customer-create:" + req.UserID)
	params.AddMetadata(MetadataUserID, req.UserID)

	cus, err := p.sc.Customers.New(params)
	if err != nil {
		return "", p.mapError("create customer", err)
	}

	p.logger.Info("stripe customer created",
		slog.String("user_id", req.UserID),
		slog.String("customer_id", cus.ID),
	)
	return cus.ID, nil
}

// CreateCheckoutSession は1講座分のチェックアウトセッションを作成する。
// メタデータにuserIdとcourseIdを埋め込み、Webhookでの照合に使用する。
func (p *Processor) CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error) {
	productData := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(req.ProductName),
	}
	if req.Description != "" {
		productData.Description = stripe.String(req.Description)
	}

	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(req.CustomerID),
		ClientReferenceID:  stripe.String(req.UserID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:    stripe.String(req.Currency),
					UnitAmount:  stripe.Int64(req.UnitAmount),
					ProductData: productData,
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata(MetadataUserID, req.UserID)
	params.AddMetadata(MetadataCourseID, req.CourseID)

	s, err := p.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, p.mapError("create checkout session", err)
	}

	return &Session{ID: s.ID, URL: s.URL}, nil
}

// mapError はStripeのエラーを分類する。
// ネットワーク障害、429、5xxはUPSTREAM_UNAVAILABLE、それ以外は設定不備として内部エラーにする。
func (p *Processor) mapError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		p.logger.Error("stripe API call failed",
			slog.String("operation", op),
			slog.Int("http_status", stripeErr.HTTPStatusCode),
			slog.String("type", string(stripeErr.Type)),
			slog.String("code", string(stripeErr.Code)),
			slog.String("request_id", stripeErr.RequestID),
		)
		if stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= 500 {
			return model.NewUpstreamUnavailableError("stripe")
		}
		return fmt.Errorf("stripe %s: %w", op, err)
	}

	p.logger.Error("stripe API call failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return model.NewUpstreamUnavailableError("stripe")
}
