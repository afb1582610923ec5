package tally

import (
	"context"

	"go.uber.org/zap"

	"github.com/Proged2021/Time-card-app-V2/internal/queue"
)

// Recorder receives one result per consumed message.
type Recorder interface {
	RecordTally(result string)
}

type nopRecorder struct{}

func (nopRecorder) RecordTally(string) {}

// Consumer applies queued events to a Counter.
type Consumer struct {
	q       queue.Queue
	counter Counter
	log     *zap.Logger
	rec     Recorder
}

// NewConsumer builds a consumer. log and rec may be nil.
func NewConsumer(q queue.Queue, counter Counter, log *zap.Logger, rec Recorder) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Consumer{q: q, counter: counter, log: log, rec: rec}
}

// Run consumes until ctx is cancelled or the queue closes.
func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.q.Consume(ctx)
	if err != nil {
		return err
	}
	c.log.Info("tally consumer started")
	for msg := range msgs {
		c.Handle(ctx, msg)
	}
	c.log.Info("tally consumer stopped")
	return nil
}

// Handle applies a single message.
func (c *Consumer) Handle(ctx context.Context, msg queue.Message) {
	if msg.Type != EventType {
		c.rec.RecordTally("skipped")
		return
	}
	ev, err := Decode(msg)
	if err != nil {
		c.log.Warn("dropping malformed tally event", zap.Error(err))
		c.rec.RecordTally("failed")
		return
	}
	if err := c.counter.Add(ctx, ev.CourseID, ev.Date, ev.Classification); err != nil {
		c.log.Error("tally update failed",
			zap.String("course_id", ev.CourseID),
			zap.String("date", ev.Date),
			zap.Error(err))
		c.rec.RecordTally("failed")
		return
	}
	c.log.Debug("tally updated",
		zap.String("course_id", ev.CourseID),
		zap.String("subject_id", ev.SubjectID),
		zap.String("classification", string(ev.Classification)))
	c.rec.RecordTally("applied")
}
