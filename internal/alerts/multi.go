package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MultiSender delivers each alert to every wrapped sender concurrently
type MultiSender struct {
	senders []Sender
}

// NewMultiSender creates a new multi-sender
func NewMultiSender(senders ...Sender) *MultiSender {
	return &MultiSender{senders: senders}
}

// Send waits for all senders. One failing sender does not stop the others.
func (s *MultiSender) Send(ctx context.Context, payload *AlertPayload) error {
	errs := make([]error, len(s.senders))

	var wg sync.WaitGroup
	for i, sender := range s.senders {
		wg.Add(1)
		go func(i int, sender Sender) {
			defer wg.Done()
			if err := sender.Send(ctx, payload); err != nil {
				errs[i] = fmt.Errorf("sender %d: %w", i, err)
			}
		}(i, sender)
	}
	wg.Wait()

	return errors.Join(errs...)
}
