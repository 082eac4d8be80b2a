package voltacq

// Contains the ClientUpdater, which publishes JSON-encoded messages giving the latest
// acquisition status, display windows and statistics.

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pebbe/zmq4"
	"github.com/usnistgov/voltacq/internal/unboundedchan"
	"go.uber.org/zap"
)

// Message tags published on the status port.
const (
	TagStatus     = "STATUS"
	TagDisplay    = "DISPLAY"
	TagStatistics = "STATS"
)

// maxQueuedUpdates bounds the updates waiting for the publisher socket; beyond it the oldest
// are dropped, since a display frame is stale once a newer one exists.
const maxQueuedUpdates = 1000

// ClientUpdate carries one message to be published on the status port.
type ClientUpdate struct {
	Tag   string
	State interface{}
}

// DisplayMessage is the payload of a DISPLAY update: one channel's full rolling window.
type DisplayMessage struct {
	Title  string
	Values []float64
}

// ClientUpdater queues updates for publication. It is a DisplaySink, a StatisticsSink and a
// StatusSink, and none of its methods ever block the polling loop.
type ClientUpdater struct {
	queue *unboundedchan.Queue[ClientUpdate]
}

// NewClientUpdater creates a ClientUpdater with an empty queue.
func NewClientUpdater() *ClientUpdater {
	return &ClientUpdater{queue: unboundedchan.New[ClientUpdate](maxQueuedUpdates)}
}

// Render queues one display window.
func (cu *ClientUpdater) Render(title string, values []float64) error {
	if !cu.queue.Send(ClientUpdate{TagDisplay, DisplayMessage{Title: title, Values: values}}) {
		return fmt.Errorf("client updater is closed")
	}
	return nil
}

// ShowStatistics queues one set of per-channel statistics.
func (cu *ClientUpdater) ShowStatistics(stats []WindowStats) error {
	if !cu.queue.Send(ClientUpdate{TagStatistics, stats}) {
		return fmt.Errorf("client updater is closed")
	}
	return nil
}

// PublishStatus queues a status update.
func (cu *ClientUpdater) PublishStatus(s Status) {
	cu.queue.Send(ClientUpdate{TagStatus, s})
}

// Updates returns the channel of queued updates, closed after Close once drained.
func (cu *ClientUpdater) Updates() <-chan ClientUpdate {
	return cu.queue.Out()
}

// Close stops accepting updates.
func (cu *ClientUpdater) Close() {
	cu.queue.Close()
}

// Dropped returns how many updates were discarded because the publisher fell behind.
func (cu *ClientUpdater) Dropped() int {
	return cu.queue.Dropped()
}

// encodeUpdate returns the two message frames: the tag and the JSON-encoded state.
func encodeUpdate(update ClientUpdate) ([]string, error) {
	message, err := json.Marshal(update.State)
	if err != nil {
		return nil, err
	}
	return []string{update.Tag, string(message)}, nil
}

// RunClientUpdater forwards every update from the channel to a ZMQ publisher socket, so any
// number of clients can follow the acquisition. It returns when ctx is done or the
// channel is closed.
func RunClientUpdater(ctx context.Context, updates <-chan ClientUpdate, portstatus int) error {
	pubSocket, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return err
	}
	defer pubSocket.Close()
	pubSocket.SetLinger(0)
	hostname := fmt.Sprintf("tcp://*:%d", portstatus)
	if err := pubSocket.Bind(hostname); err != nil {
		return fmt.Errorf("binding status publisher to %s: %w", hostname, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			frames, err := encodeUpdate(update)
			if err != nil {
				ProblemLogger.Warn("could not encode client update", zap.String("tag", update.Tag), zap.Error(err))
				continue
			}
			if _, err := pubSocket.SendMessage(frames); err != nil {
				ProblemLogger.Warn("could not publish client update", zap.String("tag", update.Tag), zap.Error(err))
			}
		}
	}
}
