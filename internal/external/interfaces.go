package external

// WebhookVerifier checks a webhook signature header against the exact raw
// payload bytes.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// Stripe event types the normalizer dispatches on.
const (
	EventStripeCheckoutCompleted = "checkout.session.completed"
	EventStripePaymentFailed     = "invoice.payment_failed"
	EventStripeSubDeleted        = "customer.subscription.deleted"
)

// Metadata keys attached to checkout sessions and their subscriptions.
const (
	MetadataUserID = "user_id"
	MetadataPlan   = "plan"
)

// SignatureHeader is the request header carrying the Stripe signature.
const SignatureHeader = "Stripe-Signature"
