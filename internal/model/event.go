package model

// PaymentEventKind は決済事業者から通知されるイベントの種別。
type PaymentEventKind string

const (
	// PaymentEventCheckoutCompleted はチェックアウトセッションの完了。
	PaymentEventCheckoutCompleted PaymentEventKind = "checkout.session.completed"
	// PaymentEventAsyncPaymentSucceeded は遅延決済（銀行振込等）の成功。
	PaymentEventAsyncPaymentSucceeded PaymentEventKind = "checkout.session.async_payment_succeeded"
)

// PaymentEvent は署名検証済みのWebhookイベント。
// 未対応の種別ではCheckoutがnilになる。
type PaymentEvent struct {
	ID       string
	Kind     PaymentEventKind
	Checkout *CheckoutCompletion
}

// CheckoutCompletion はチェックアウト完了イベントのペイロード。
// UserIDとCourseIDはセッション作成時に埋め込んだメタデータから取り出す。
type CheckoutCompletion struct {
	SessionID   string
	UserID      string
	CourseID    string
	AmountTotal int64
	Currency    string
	Paid        bool
}
