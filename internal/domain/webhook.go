package domain

// WebhookVerb identifies which of the Callback Client's three operations was invoked.
type WebhookVerb string

const (
	WebhookInProgress WebhookVerb = "in_progress"
	WebhookCompleted  WebhookVerb = "completed"
	WebhookFailed     WebhookVerb = "failed"
)

// CountsAsRetry reports whether a webhook attempt of this verb increments
// Job.WebhookRetryCount. in_progress may fire repeatedly as informational and
// is excluded; only terminal attempts (completed/failed) count.
func (v WebhookVerb) CountsAsRetry() bool {
	return v == WebhookCompleted || v == WebhookFailed
}

// tenantStatusCode maps a webhook verb to the numeric status code the tenant
// platform's callback query parameter expects (pending, in_progress, completed, failed).
func (v WebhookVerb) tenantStatusCode() int {
	switch v {
	case WebhookInProgress:
		return 1
	case WebhookCompleted:
		return 2
	case WebhookFailed:
		return 3
	default:
		return 0
	}
}

// TenantStatusCode exposes the numeric status code sent to the tenant platform.
func TenantStatusCode(v WebhookVerb) int { return v.tenantStatusCode() }
