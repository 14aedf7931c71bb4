package roomenv

import (
	"context"
	"errors"
	"time"

	"github.com/i474232898/home-env-monitor/internal/bucket"
)

var (
	// ErrNotFound is returned when the store holds no reading for a source.
	ErrNotFound = errors.New("no reading for source")

	// ErrFetchFailed wraps sensor source failures.
	ErrFetchFailed = errors.New("sensor fetch failed")

	// ErrStoreWrite wraps sample store append failures.
	ErrStoreWrite = errors.New("sample store write failed")

	// ErrSeriesUnavailable is returned when the day's series could not be
	// rebuilt from the store.
	ErrSeriesUnavailable = errors.New("daily series unavailable")
)

// Source abstracts a sensor vendor. Request starts a fetch and returns a
// channel that delivers exactly one FetchResult and is then closed.
type Source interface {
	Name() SourceTag
	Request(ctx context.Context) <-chan FetchResult
}

// GroupingRule maps an instant to a bucket label.
type GroupingRule interface {
	LabelOf(t time.Time) string
}

// Store is the contract every sample store must satisfy.
type Store interface {
	Append(ctx context.Context, r Reading) error
	QueryGroupedAverage(ctx context.Context, source SourceTag, w bucket.Window, rule GroupingRule) (map[string]Averages, error)
	Latest(ctx context.Context, source SourceTag) (Reading, error)
}

// PayloadArchive keeps the raw vendor payload of every successful fetch.
type PayloadArchive interface {
	ArchivePayload(ctx context.Context, source SourceTag, at time.Time, payload []byte) error
}

// Publisher delivers events to the UI collaborator.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) error
}
