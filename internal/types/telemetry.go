package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricAPILatency     = "APILatency"
	MetricAPIRequests    = "APIRequestCount"
	MetricBillingEvent   = "BillingEvent"
	MetricLookupMiss     = "LookupMiss"
	MetricAuditDropped   = "AuditEventDropped"
	MetricTokenCredited  = "TokensCredited"
	MetricReconcileError = "ReconciliationMismatch"

	// Dimension Keys
	DimEndpoint  = "Endpoint"
	DimMethod    = "Method"
	DimStatus    = "Status"
	DimEventName = "EventName"
	DimEntity    = "Entity"

	// Metric Namespace
	MetricNamespace = "BillingSync"
)

// Audit event names recorded by the billing engine. Every processed, failed
// or ignored webhook produces at least one of them.
const (
	AuditPurchaseCompleted   = "purchase.completed"
	AuditPurchaseFailed      = "purchase.failed"
	AuditPurchaseDuplicate   = "purchase.duplicate_ignored"
	AuditPurchaseFailIgnored = "purchase.failure_ignored"
	AuditPurchaseUnrecorded  = "purchase.completion_unrecorded"
	AuditPurchaseConfirmed   = "purchase.confirmed"
	AuditSubscriptionUpdated = "subscription.updated"
	AuditSubscriptionSkipped = "subscription.transition_skipped"
	AuditInvoiceRecorded     = "subscription.invoice_recorded"
	AuditInvoiceDuplicate    = "subscription.invoice_duplicate"
	AuditLookupMiss          = "lookup.not_found"
	AuditWebhookIgnored      = "webhook.ignored"
	AuditWebhookFailed       = "webhook.failed"
	AuditWebhookRejected     = "webhook.rejected"
)
