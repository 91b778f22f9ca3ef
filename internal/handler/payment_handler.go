package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/coursemart/internal/middleware"
	"github.com/hitoshi/coursemart/internal/model"
)

// maxCheckoutRequestBytes はチェックアウト作成リクエストボディの上限。
const maxCheckoutRequestBytes = 4 << 10

// CheckoutServiceInterface はチェックアウト作成に必要なサービスインターフェース。
type CheckoutServiceInterface interface {
	// CreateCheckoutSession はユーザーが講座を購入するための決済セッションを作成する。
	CreateCheckoutSession(ctx context.Context, userID, courseID string) (*checkoutSessionResponse, error)
}

// WebhookVerifier はWebhookリクエストの署名を検証し、型付きイベントに変換する。
type WebhookVerifier interface {
	Verify(rawBody []byte, signatureHeader string) (*model.PaymentEvent, error)
}

// WebhookReconciler は検証済みイベントを受講権に反映し、結果の種別を返す。
type WebhookReconciler interface {
	ReconcileEvent(ctx context.Context, event *model.PaymentEvent) (string, error)
}

// PaymentHandler は決済関連のHTTPハンドラー。
type PaymentHandler struct {
	checkout   CheckoutServiceInterface
	verifier   WebhookVerifier
	reconciler WebhookReconciler
	logger     *slog.Logger
}

// NewPaymentHandler はPaymentHandlerを生成する。
func NewPaymentHandler(
	checkout CheckoutServiceInterface,
	verifier WebhookVerifier,
	reconciler WebhookReconciler,
	logger *slog.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		checkout:   checkout,
		verifier:   verifier,
		reconciler: reconciler,
		logger:     logger,
	}
}

// createCheckoutSessionRequest はチェックアウト作成リクエストのボディ。
type createCheckoutSessionRequest struct {
	CourseID string `json:"courseId"`
}

// checkoutSessionResponse は作成した決済セッションのAPIレスポンス。
// sessionIdは決済事業者のセッションID、urlは決済画面へのリダイレクト先。
type checkoutSessionResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// webhookResponse はWebhook受信の応答。
type webhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

// CreateCheckoutSession はチェックアウトセッションを作成する。
// POST /api/payments/create-checkout-session
func (h *PaymentHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req createCheckoutSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCheckoutRequestBytes)).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました。"))
		return
	}

	courseID := strings.TrimSpace(req.CourseID)
	if courseID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("courseIdは必須です。"))
		return
	}

	session, err := h.checkout.CreateCheckoutSession(r.Context(), userID, courseID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteSuccessResponse(w, http.StatusOK, "Checkout session created", session)
}

// Webhook は決済事業者からのイベント通知を受け付ける。
// POST /api/payments/webhook
//
// 署名はボディのバイト列そのものに対して検証するため、RawBodyMiddlewareの後に配置する。
// 署名不正・形式不正は400、永続化の一時障害は500（再送を要求）、それ以外は200で応答する。
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, ok := middleware.RawBodyFromContext(r.Context())
	if !ok {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewInvalidRequestError("リクエストボディを読み取れませんでした。"))
			return
		}
	}

	event, err := h.verifier.Verify(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) {
			apiErr = model.NewMalformedEventError(err.Error())
		}
		h.logger.Warn("webhook rejected",
			slog.String("code", apiErr.Code),
			slog.String("reason", apiErr.Message),
		)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	outcome, err := h.reconciler.ReconcileEvent(r.Context(), event)
	if err != nil {
		h.logger.Error("webhook reconciliation failed",
			slog.String("event_id", event.ID),
			slog.String("event_type", string(event.Kind)),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(webhookResponse{Received: true, Outcome: outcome})
}
