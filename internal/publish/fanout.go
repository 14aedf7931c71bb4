package publish

import (
	"context"
	"errors"

	"github.com/i474232898/home-env-monitor/internal/roomenv"
)

// Fanout delivers every event to each of its publishers. A failing
// publisher does not stop delivery to the others.
type Fanout []roomenv.Publisher

// Publish sends the event to all publishers and joins their errors.
func (f Fanout) Publish(ctx context.Context, event string, payload any) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
