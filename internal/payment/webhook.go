package payment

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/hitoshi/coursemart/internal/model"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Authenticator はStripe Webhookの署名を検証し、ドメインイベントに変換する。
type Authenticator struct {
	secret    string
	tolerance time.Duration
}

// NewAuthenticator はAuthenticatorを生成する。toleranceはタイムスタンプの許容誤差。
func NewAuthenticator(secret string, tolerance time.Duration) *Authenticator {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Authenticator{secret: secret, tolerance: tolerance}
}

// Verify は受信したままのボディとStripe-Signatureヘッダーを検証する。
// rawBodyはパース・再エンコードしていないバイト列でなければならない。
// 署名不一致はSIGNATURE_INVALID、署名は正しいが内容が不正な場合はMALFORMED_EVENTを返す。
func (a *Authenticator) Verify(rawBody []byte, signatureHeader string) (*model.PaymentEvent, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, model.NewSignatureInvalidError("missing signature header")
	}

	event, err := webhook.ConstructEventWithOptions(rawBody, signatureHeader, a.secret, webhook.ConstructEventOptions{
		Tolerance:                a.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return nil, model.NewSignatureInvalidError(err.Error())
		}
		return nil, model.NewMalformedEventError(err.Error())
	}

	result := &model.PaymentEvent{
		ID:   event.ID,
		Kind: model.PaymentEventKind(event.Type),
	}

	switch result.Kind {
	case model.PaymentEventCheckoutCompleted, model.PaymentEventAsyncPaymentSucceeded:
		completion, err := parseCheckoutCompletion(event)
		if err != nil {
			return nil, err
		}
		result.Checkout = completion
	}

	return result, nil
}

// parseCheckoutCompletion はイベントからチェックアウトセッションを取り出し、メタデータを検証する。
func parseCheckoutCompletion(event stripe.Event) (*model.CheckoutCompletion, error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, model.NewMalformedEventError("event has no data object")
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, model.NewMalformedEventError("checkout session: " + err.Error())
	}

	userID := strings.TrimSpace(session.Metadata[MetadataUserID])
	courseID := strings.TrimSpace(session.Metadata[MetadataCourseID])
	if userID == "" || courseID == "" {
		return nil, model.NewMalformedEventError("checkout session metadata must carry userId and courseId")
	}

	return &model.CheckoutCompletion{
		SessionID:   session.ID,
		UserID:      userID,
		CourseID:    courseID,
		AmountTotal: session.AmountTotal,
		Currency:    string(session.Currency),
		Paid:        session.PaymentStatus != stripe.CheckoutSessionPaymentStatusUnpaid,
	}, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld) ||
		errors.Is(err, webhook.ErrInvalidHeader)
}
