package services

import (
	"context"
	"crypto/rand"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roomhub/apiserver/internal/events"
	"github.com/roomhub/apiserver/internal/metrics"
	"github.com/roomhub/apiserver/types"
)

// Options carries the collaborators shared by every service. Zero fields
// fall back to quiet defaults.
type Options struct {
	Logger  logrus.FieldLogger
	Metrics metrics.Recorder
	Events  events.Publisher
	Now     func() time.Time
	Random  io.Reader
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		o.Logger = logger
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Noop{}
	}
	if o.Events == nil {
		o.Events = events.Noop{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Random == nil {
		o.Random = rand.Reader
	}
	return o
}

type base struct {
	log     logrus.FieldLogger
	metrics metrics.Recorder
	events  events.Publisher
	now     func() time.Time
	random  io.Reader
}

func newBase(opts Options, component string) base {
	opts = opts.withDefaults()
	return base{
		log:     opts.Logger.WithField("component", component),
		metrics: opts.Metrics,
		events:  opts.Events,
		now:     opts.Now,
		random:  opts.Random,
	}
}

func (b base) clock() time.Time {
	return b.now().UTC()
}

// publish is best-effort: a failed delivery is logged and otherwise ignored.
func (b base) publish(ctx context.Context, t events.Type, subjectID string) {
	event := events.New(ctx, t, subjectID, b.clock())
	if err := b.events.Publish(ctx, event); err != nil {
		b.log.WithFields(logrus.Fields{
			"event_type": t,
			"event_id":   event.ID,
			"subject_id": subjectID,
		}).WithError(err).Warn("failed to publish event")
	}
}

// observe records the outcome of an operation. Faults are logged here, once.
func observe[T any](b base, op string, result types.Result[T]) types.Result[T] {
	outcome := result.Outcome()
	b.metrics.RecordOperation(op, outcome)

	logCtx := b.log.WithField("operation", op)
	switch outcome {
	case types.OutcomeError:
		logCtx.WithError(result.Err).Error("operation failed")
	case types.OutcomeInvalid:
		logCtx.WithField("validation_errors", len(result.ValidationErrors)).Info("operation rejected")
	case types.OutcomeNotFound:
		logCtx.Debug("entity not found")
	}
	return result
}
