package models

// Booking statuses.
const (
	StatusPending    = "pending"
	StatusConfirmed  = "confirmed"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusDisputed   = "disputed"
)

// Payment statuses.
const (
	PaymentPending     = "pending"
	PaymentDepositPaid = "deposit_paid"
	PaymentFullyPaid   = "fully_paid"
	PaymentRefunded    = "refunded"
	PaymentFailed      = "failed"
)

// Payment intent statuses.
const (
	IntentPending    = "pending"
	IntentSucceeded  = "succeeded"
	IntentFailed     = "failed"
	IntentSuperseded = "superseded"
)

// Service types offered by providers.
const (
	ServicePrivateDinner = "private_dinner"
	ServiceCatering      = "catering"
	ServiceCookingClass  = "cooking_class"
	ServiceMealPrep      = "meal_prep"
)

// Actor roles.
const (
	RoleClient   = "client"
	RoleProvider = "provider"
	RoleAdmin    = "admin"
	RoleSystem   = "system"
)

const (
	// DateLayout is the storage format of event dates.
	DateLayout = "2006-01-02"
	// TimeLayout is the storage format of event start times.
	TimeLayout = "15:04"

	// BasisPoints is the denominator for fee, tax and deposit rates.
	BasisPoints = 10000

	// DefaultDepositBps is the share of the total collected upfront (20%).
	DefaultDepositBps = 2000
	// DefaultServiceFeeBps is the platform fee added on top of the base price (10%).
	DefaultServiceFeeBps = 1000

	DefaultCurrency = "eur"

	MaxGuestCount    = 500
	MaxDurationHours = 24
)

var validStatuses = map[string]bool{
	StatusPending:    true,
	StatusConfirmed:  true,
	StatusInProgress: true,
	StatusCompleted:  true,
	StatusCancelled:  true,
	StatusDisputed:   true,
}

var validServiceTypes = map[string]bool{
	ServicePrivateDinner: true,
	ServiceCatering:      true,
	ServiceCookingClass:  true,
	ServiceMealPrep:      true,
}

// IsValidStatus reports whether s is a known booking status.
func IsValidStatus(s string) bool {
	return validStatuses[s]
}

// IsValidServiceType reports whether s is a known service type.
func IsValidServiceType(s string) bool {
	return validServiceTypes[s]
}

// IsTerminal reports whether no further transitions are possible from status.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}
