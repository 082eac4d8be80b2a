package voltacq

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Consumer receives every drained batch. Consumers are called in a fixed order and must
// not block; an error from one is logged and never reaches the others.
type Consumer interface {
	Name() string
	Consume(Batch) error
}

// PollingLoop drives a running Session: every tick it drains one batch if one is ready,
// distributes it to the consumers, advances the sample counter, and then either re-arms or
// tears the session down. All device access during a run happens on the loop's goroutine.
type PollingLoop struct {
	session   *Session
	consumers []Consumer
	metrics   *Metrics
	task      *RepeatingTask
	onFinish  func(error)
}

// NewPollingLoop creates a PollingLoop. Consumers receive each batch in the order given.
// The metrics may be nil.
func NewPollingLoop(session *Session, consumers []Consumer, metrics *Metrics) *PollingLoop {
	return &PollingLoop{session: session, consumers: consumers, metrics: metrics}
}

// Run schedules the first tick one interval from now. onFinish is called exactly once, on the
// loop goroutine, after teardown, with the run's terminal error (nil for a clean stop).
func (pl *PollingLoop) Run(interval time.Duration, onFinish func(error)) {
	pl.onFinish = onFinish
	pl.metrics.SetRunState(Running)
	pl.task = Every(interval, pl.tick)
}

// Done is closed when the loop has terminated.
func (pl *PollingLoop) Done() <-chan struct{} {
	return pl.task.Done()
}

// tick is one pass of the loop. It returns whether to re-arm.
func (pl *PollingLoop) tick() bool {
	batch, ok, err := pl.session.Drain()
	if err != nil {
		ProblemLogger.Error("drain failed; stopping acquisition", zap.Error(err))
		pl.finish(err)
		return false
	}
	if ok {
		pl.distribute(batch)
		pl.session.Advance(batch.Len())
		pl.metrics.BatchDistributed(batch.Len())
	} else {
		pl.metrics.EmptyDrain()
	}

	if pl.session.State() == Running {
		return true
	}
	pl.finish(nil)
	return false
}

// distribute hands one batch to every consumer, in order, isolating their failures.
func (pl *PollingLoop) distribute(batch Batch) {
	for _, c := range pl.consumers {
		if err := consumeSafely(c, batch); err != nil {
			pl.metrics.ConsumerError(c.Name())
			ProblemLogger.Warn("consumer failed on batch",
				zap.String("consumer", c.Name()),
				zap.Int64("firstIndex", batch.FirstIndex),
				zap.Int("samples", batch.Len()),
				zap.Error(err))
		}
	}
}

// consumeSafely turns a panic in a consumer into an error, so one faulty sink cannot take
// down the loop and leave the devices running.
func consumeSafely(c Consumer, batch Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consumer %s panicked: %v", c.Name(), r)
		}
	}()
	return c.Consume(batch)
}

func (pl *PollingLoop) finish(cause error) {
	err := errors.Join(cause, pl.session.Teardown())
	pl.metrics.SetRunState(Idle)
	if err != nil {
		ProblemLogger.Error("acquisition ended with error", zap.Error(err))
	}
	UpdateLogger.Info("acquisition stopped", zap.Int64("samples", pl.session.Counter()))
	if pl.onFinish != nil {
		pl.onFinish(err)
	}
}
