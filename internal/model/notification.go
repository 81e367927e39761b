package model

// Channel identifies a notification delivery mechanism
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
	ChannelSMS   Channel = "sms"
)

// Contact is a resolved recipient. Which fields are set depends on how the
// recipient was resolved: a literal email only carries Email.
type Contact struct {
	UserID    string `json:"user_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	PushToken string `json:"push_token,omitempty"`
}

// Address returns the identity used to reach the contact on a channel, or ""
// when the contact cannot be reached there.
func (c Contact) Address(channel Channel) string {
	switch channel {
	case ChannelEmail:
		return c.Email
	case ChannelSMS:
		return c.Phone
	case ChannelPush:
		return c.PushToken
	case ChannelInApp:
		return c.UserID
	}
	return ""
}

// NotificationAttempt is the outcome of one send to one recipient on one channel
type NotificationAttempt struct {
	Channel      Channel `json:"channel"`
	Recipient    string  `json:"recipient"`
	UserID       string  `json:"user_id,omitempty"`
	Success      bool    `json:"success"`
	ErrorMessage string  `json:"error,omitempty"`
}

// DeliveryFailure describes a failed send
type DeliveryFailure struct {
	Recipient string  `json:"recipient"`
	Channel   Channel `json:"channel"`
	Error     string  `json:"error"`
}

// DeliverySummary aggregates the attempts of one dispatch
type DeliverySummary struct {
	Successful int                   `json:"successful"`
	Failed     int                   `json:"failed"`
	Errors     []DeliveryFailure     `json:"errors"`
	Attempts   []NotificationAttempt `json:"-"`

	ChannelsNotified []Channel `json:"channels_notified"`
	NotifiedUserIDs  []string  `json:"notified_user_ids"`
	NotifiedEmails   []string  `json:"notified_emails"`
}
