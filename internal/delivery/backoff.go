package delivery

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff computes the re-enqueue delay for the nth failed attempt:
// Base * 2^(n-1), capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b Backoff) Delay(retryCount int) time.Duration {
	if retryCount < 1 || b.Base <= 0 {
		return 0
	}
	ceiling := b.Max
	if ceiling <= 0 {
		ceiling = b.Base << 10
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Base
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = ceiling
	eb.MaxElapsedTime = 0
	eb.Reset()

	var d time.Duration
	for i := 0; i < retryCount; i++ {
		d = eb.NextBackOff()
	}
	if d > ceiling {
		d = ceiling
	}
	return d
}
