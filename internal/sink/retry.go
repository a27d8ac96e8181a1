package sink

import (
	"time"

	"github.com/sirupsen/logrus"

	"chainsweep/internal/progress"
)

// RetryExporter decorates an Exporter with bounded retry, the same
// decorator shape progress.RetryStore uses for the primary store.
type RetryExporter struct {
	inner    Exporter
	attempts int
	delay    time.Duration
	log      *logrus.Entry
}

func NewRetryExporter(inner Exporter, attempts int, delay time.Duration) Exporter {
	if attempts < 1 {
		attempts = 1
	}
	if delay <= 0 {
		delay = time.Second
	}
	return &RetryExporter{
		inner:    inner,
		attempts: attempts,
		delay:    delay,
		log:      logrus.WithField("component", "csv-exporter"),
	}
}

func (r *RetryExporter) Write(e progress.DecodedEvent) error {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = r.inner.Write(e)
		if err == nil {
			return nil
		}
		r.log.WithError(err).Warnf("export write failed (attempt %d/%d)", attempt, r.attempts)
		if attempt < r.attempts {
			time.Sleep(r.delay)
		}
	}
	return err
}
