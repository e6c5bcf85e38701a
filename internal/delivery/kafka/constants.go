package kafka

// Topics. Messages sharing a key land on one partition, so delivery is
// ordered per booking (payment/booking topics) or per event (seat topics).
const (
	TopicSeatCommands = "seat-commands"
	TopicSeatEvents   = "seat-events"

	TopicPaymentCommands = "payment-commands"
	TopicPaymentEvents   = "payment-events"

	TopicBookingEvents      = "booking-events"
	TopicNotificationEvents = "notification-events"
)
