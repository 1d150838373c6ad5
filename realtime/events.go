package realtime

// Event topics pushed by the panel server. Collaborators subscribe to
// these by name; the server accepts any topic string, so the list is not
// exhaustive.
const (
	TopicSystemAlert         = "system_alert"
	TopicBackupCompleted     = "backup_completed"
	TopicServiceStatusChange = "service_status_change"
	TopicResourceUsageUpdate = "resource_usage_update"
	TopicAccountCreated      = "account_created"
	TopicAccountSuspended    = "account_suspended"
	TopicEmailQueueStatus    = "email_queue_status"
	TopicSecurityAlert       = "security_alert"
	TopicLoginAttempt        = "login_attempt"
)
