package domain

import "time"

type Gateway struct {
	Key                 string
	Secret              string
	AllowedMessageTypes []MessageType
	CreatedAt           time.Time
}

// Accepts reports whether the gateway may send messages of type t. An empty
// allow list accepts every type.
func (g Gateway) Accepts(t MessageType) bool {
	if len(g.AllowedMessageTypes) == 0 {
		return true
	}
	for _, allowed := range g.AllowedMessageTypes {
		if allowed == t {
			return true
		}
	}
	return false
}

type Tracker struct {
	Key       string
	CreatedAt time.Time
}

type Product struct {
	Key       string
	Name      string
	CreatedAt time.Time
}

type ProductOrder struct {
	Number      string
	ProductKeys []string
	CreatedAt   time.Time
}

// TrackerAssignment binds a tracker to an order from AssignedAt onwards.
type TrackerAssignment struct {
	OrderNumber string
	TrackerKey  string
	AssignedAt  time.Time
}

type OrderStatusCode string

const (
	OrderStatusCreated   OrderStatusCode = "created"
	OrderStatusShipped   OrderStatusCode = "shipped"
	OrderStatusDelivered OrderStatusCode = "delivered"
)

type OrderStatus struct {
	OrderNumber string
	Status      OrderStatusCode
	Timestamp   time.Time
}

// ActiveAssignment is an order a tracker was attached to at a given instant,
// with the products carried by the order.
type ActiveAssignment struct {
	OrderNumber string
	TrackerKey  string
	AssignedAt  time.Time
	ProductKeys []string
}
