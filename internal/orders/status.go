package orders

type PaymentStatus string

const (
	PaymentCreated       PaymentStatus = "CREATED" // gateway order, session belum dibuka
	PaymentAwaiting      PaymentStatus = "AWAITING_CONFIRMATION"
	PaymentConfirmed     PaymentStatus = "CONFIRMED"
	PaymentFailed        PaymentStatus = "FAILED"
	PaymentExpired       PaymentStatus = "EXPIRED"
	PaymentNotApplicable PaymentStatus = "NOT_APPLICABLE" // COD
)

type OrderStatus string

const (
	OrderCreated   OrderStatus = "CREATED"
	OrderPlaced    OrderStatus = "PLACED"
	OrderCancelled OrderStatus = "CANCELLED"
)

var validNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentCreated:       {PaymentAwaiting: true},
	PaymentAwaiting:      {PaymentConfirmed: true, PaymentFailed: true, PaymentExpired: true},
	PaymentConfirmed:     {},
	PaymentFailed:        {},
	PaymentExpired:       {},
	PaymentNotApplicable: {},
}

func CanTransition(from, to PaymentStatus) bool {
	return validNext[from][to]
}

// Terminal reports whether no further payment transition is possible.
func (s PaymentStatus) Terminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

func (s PaymentStatus) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// DeriveOrderStatus: PLACED hanya untuk COD atau pembayaran CONFIRMED.
func DeriveOrderStatus(m PaymentMethod, s PaymentStatus) OrderStatus {
	switch {
	case s == PaymentConfirmed:
		return OrderPlaced
	case m == MethodCOD && s == PaymentNotApplicable:
		return OrderPlaced
	case s == PaymentFailed || s == PaymentExpired:
		return OrderCancelled
	default:
		return OrderCreated
	}
}
