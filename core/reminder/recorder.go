package reminder

import "context"

// Recorder observes the lifecycle of scheduled deliveries.
// Implementations must not block for long: Scheduled runs on the dialogue path.
type Recorder interface {
	Scheduled(ctx context.Context, d *Delivery)
	Fired(ctx context.Context, d *Delivery, err error)
	// Dropped reports a delivery discarded at shutdown before it fired.
	Dropped(ctx context.Context, d *Delivery)
}

// NopRecorder ignores every event.
type NopRecorder struct{}

func (NopRecorder) Scheduled(context.Context, *Delivery)    {}
func (NopRecorder) Fired(context.Context, *Delivery, error) {}
func (NopRecorder) Dropped(context.Context, *Delivery)      {}

// Recorders fans events out to several recorders in order.
type Recorders []Recorder

func (rs Recorders) Scheduled(ctx context.Context, d *Delivery) {
	for _, r := range rs {
		r.Scheduled(ctx, d)
	}
}

func (rs Recorders) Fired(ctx context.Context, d *Delivery, err error) {
	for _, r := range rs {
		r.Fired(ctx, d, err)
	}
}

func (rs Recorders) Dropped(ctx context.Context, d *Delivery) {
	for _, r := range rs {
		r.Dropped(ctx, d)
	}
}
