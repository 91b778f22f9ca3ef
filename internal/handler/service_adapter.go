package handler

import (
	"context"

	"github.com/hitoshi/coursemart/internal/checkout"
	"github.com/hitoshi/coursemart/internal/entitlement"
	"github.com/hitoshi/coursemart/internal/model"
)

// CheckoutServiceAdapter は checkout.Service を CheckoutServiceInterface に適合させるアダプタ。
type CheckoutServiceAdapter struct {
	svc *checkout.Service
}

// NewCheckoutServiceAdapter はCheckoutServiceAdapterを生成する。
func NewCheckoutServiceAdapter(svc *checkout.Service) *CheckoutServiceAdapter {
	return &CheckoutServiceAdapter{svc: svc}
}

// CreateCheckoutSession は決済セッションを作成しhandlerレスポンス型で返す。
func (a *CheckoutServiceAdapter) CreateCheckoutSession(ctx context.Context, userID, courseID string) (*checkoutSessionResponse, error) {
	result, err := a.svc.Initiate(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	return &checkoutSessionResponse{SessionID: result.SessionID, URL: result.RedirectURL}, nil
}

// ReconcilerAdapter は entitlement.Reconciler を WebhookReconciler に適合させるアダプタ。
type ReconcilerAdapter struct {
	reconciler *entitlement.Reconciler
}

// NewReconcilerAdapter はReconcilerAdapterを生成する。
func NewReconcilerAdapter(reconciler *entitlement.Reconciler) *ReconcilerAdapter {
	return &ReconcilerAdapter{reconciler: reconciler}
}

// ReconcileEvent はイベントを照合し、結果の種別を文字列で返す。
func (a *ReconcilerAdapter) ReconcileEvent(ctx context.Context, event *model.PaymentEvent) (string, error) {
	result, err := a.reconciler.Reconcile(ctx, event)
	if err != nil {
		return "", err
	}
	return string(result.Outcome), nil
}
