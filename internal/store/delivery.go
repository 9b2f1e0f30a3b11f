package store

// WebhookDelivery is one queued delivery attempt record, shared between the
// stores and the webhook worker.
type WebhookDelivery struct {
	ID             string
	TenantID       string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Status         string
	Attempts       int
}
