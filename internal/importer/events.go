package importer

import "context"

// EventKind identifies what an Event reports.
type EventKind string

const (
	EventProgress     EventKind = "progress"
	EventRowProcessed EventKind = "row_processed"
	EventRowFailed    EventKind = "row_failed"
	EventFinish       EventKind = "finish"
	EventError        EventKind = "error"
	EventCancelled    EventKind = "cancelled"
)

// Event is delivered to subscribers in the order the engine produces them.
type Event struct {
	Kind     EventKind
	Progress Progress
	Row      *RowResult // Set for row events
	Err      error      // Set for EventError
}

// OnProgressUpdate sets the handler called whenever progress advances.
func (im *Importer) OnProgressUpdate(fn func(Progress)) {
	im.mu.Lock()
	im.onProgress = fn
	im.mu.Unlock()
}

// OnFinish sets the handler called once when a run completes.
func (im *Importer) OnFinish(fn func()) {
	im.mu.Lock()
	im.onFinish = fn
	im.mu.Unlock()
}

// OnError sets the handler for fatal errors. Without one, fatal errors are
// logged and only returned from Import.
func (im *Importer) OnError(fn func(error)) {
	im.mu.Lock()
	im.onError = fn
	im.mu.Unlock()
}

// OnRowProcessed sets the handler called for every successfully created row.
func (im *Importer) OnRowProcessed(fn func(RowResult)) {
	im.mu.Lock()
	im.onRowProcessed = fn
	im.mu.Unlock()
}

// OnRowFailed sets the handler called for every rejected or flagged row.
func (im *Importer) OnRowFailed(fn func(RowResult)) {
	im.mu.Lock()
	im.onRowFailed = fn
	im.mu.Unlock()
}

// Subscribe returns a channel receiving every event of the next (or current)
// run. The channel is closed when that run ends. Delivery blocks while the
// buffer is full, so subscribers must keep reading until the channel closes.
func (im *Importer) Subscribe(buffer int) <-chan Event {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)
	im.mu.Lock()
	im.subscribers = append(im.subscribers, ch)
	im.mu.Unlock()
	return ch
}

type handlers struct {
	onProgress     func(Progress)
	onFinish       func()
	onError        func(error)
	onRowProcessed func(RowResult)
	onRowFailed    func(RowResult)
	subscribers    []chan Event
}

func (im *Importer) handlers() handlers {
	im.mu.Lock()
	defer im.mu.Unlock()
	return handlers{
		onProgress:     im.onProgress,
		onFinish:       im.onFinish,
		onError:        im.onError,
		onRowProcessed: im.onRowProcessed,
		onRowFailed:    im.onRowFailed,
		subscribers:    append([]chan Event(nil), im.subscribers...),
	}
}

// publish delivers ev to every subscriber. Once ctx is done, delivery only
// succeeds when there is buffer space.
func publish(ctx context.Context, subs []chan Event, ev Event) {
	for _, ch := range subs {
		select {
		case ch <- ev:
		case <-ctx.Done():
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

func (im *Importer) closeSubscribers() {
	im.mu.Lock()
	defer im.mu.Unlock()
	for _, ch := range im.subscribers {
		close(ch)
	}
	im.subscribers = nil
}
