package transport

import "context"

// Delivery describes where an inbound event came from. Adapters attach it to
// the handler context; fields a broker has no notion of stay zero.
type Delivery struct {
	Adapter     string
	Topic       string
	Partition   int32
	Offset      int64
	Redelivered bool
}

type deliveryKey struct{}

// WithDelivery returns a copy of ctx carrying d.
func WithDelivery(ctx context.Context, d Delivery) context.Context {
	return context.WithValue(ctx, deliveryKey{}, d)
}

// DeliveryFromContext returns the delivery attached by the adapter.
func DeliveryFromContext(ctx context.Context) (Delivery, bool) {
	d, ok := ctx.Value(deliveryKey{}).(Delivery)
	return d, ok
}
