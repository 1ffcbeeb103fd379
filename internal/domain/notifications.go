package domain

type NotificationKind string

const (
	NotificationActivation      NotificationKind = "activation"
	NotificationRecovery        NotificationKind = "recovery"
	NotificationPasswordChanged NotificationKind = "password_changed"
)

// Notification is the semantic content of an outbound message. Rendering it
// into a mail body is the notifier's job.
type Notification struct {
	Kind          NotificationKind
	To            string
	RecipientName string
	Subject       string
	Title         string
	Text          string
	Link          string
	LinkLabel     string
}
