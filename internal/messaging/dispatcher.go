package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/CarPulse/internal/flow"
	"github.com/BTreeMap/CarPulse/internal/models"
)

// ConversationHandler turns one inbound message into the ordered actions to deliver.
type ConversationHandler interface {
	Handle(ctx context.Context, userID, text string) ([]models.Action, error)
}

// Dispatcher routes inbound responses from a Service through the conversation
// engine and delivers the resulting actions back over the same Service.
//
// Each user has a FIFO queue drained by its own goroutine, so messages of one
// user are handled in arrival order while different users run concurrently.
type Dispatcher struct {
	svc     Service
	handler ConversationHandler

	mu             sync.Mutex
	queues         map[string]*userQueue
	failureMessage string

	wg sync.WaitGroup
}

type userQueue struct {
	pending []models.Response
}

// NewDispatcher creates a Dispatcher for the given service and engine.
func NewDispatcher(svc Service, handler ConversationHandler) *Dispatcher {
	return &Dispatcher{
		svc:            svc,
		handler:        handler,
		queues:         make(map[string]*userQueue),
		failureMessage: flow.MsgGenericFailure,
	}
}

// SetFailureMessage sets the notice sent when the engine returns an error.
func (d *Dispatcher) SetFailureMessage(message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failureMessage = message
}

// Run consumes the service's responses until the channel closes or ctx is
// cancelled, then waits for in-flight conversations to finish.
func (d *Dispatcher) Run(ctx context.Context) {
	slog.Info("Dispatcher starting response processing")
	defer func() {
		d.wg.Wait()
		slog.Info("Dispatcher stopped response processing")
	}()

	for {
		select {
		case response, ok := <-d.svc.Responses():
			if !ok {
				slog.Debug("Dispatcher responses channel closed")
				return
			}
			d.Enqueue(ctx, response)
		case <-ctx.Done():
			slog.Debug("Dispatcher stopping due to context cancellation")
			return
		}
	}
}

// Enqueue schedules a response on its user's queue.
func (d *Dispatcher) Enqueue(ctx context.Context, response models.Response) {
	userID, err := d.svc.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		slog.Error("Dispatcher dropping response with invalid sender", "error", err, "from", response.From)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	q, running := d.queues[userID]
	if !running {
		q = &userQueue{}
		d.queues[userID] = q
	}
	q.pending = append(q.pending, response)
	if !running {
		d.wg.Add(1)
		go d.drain(ctx, userID, q)
	}
}

// drain processes the queue of one user until it is empty.
func (d *Dispatcher) drain(ctx context.Context, userID string, q *userQueue) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(q.pending) == 0 {
			delete(d.queues, userID)
			d.mu.Unlock()
			return
		}
		next := q.pending[0]
		q.pending = q.pending[1:]
		d.mu.Unlock()

		if err := d.process(ctx, userID, next); err != nil {
			slog.Error("Dispatcher failed to process response", "error", err, "user", userID)
		}
	}
}

// ActiveUsers returns the number of users with queued or running work.
func (d *Dispatcher) ActiveUsers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// ProcessResponse handles one response synchronously.
func (d *Dispatcher) ProcessResponse(ctx context.Context, response models.Response) error {
	userID, err := d.svc.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	return d.process(ctx, userID, response)
}

func (d *Dispatcher) process(ctx context.Context, userID string, response models.Response) error {
	slog.Debug("Dispatcher processing response", "user", userID, "body_length", len(response.Body))

	actions, err := d.handler.Handle(ctx, userID, response.Body)
	if err != nil {
		d.mu.Lock()
		notice := d.failureMessage
		d.mu.Unlock()
		if sendErr := d.svc.SendMessage(ctx, userID, notice); sendErr != nil {
			slog.Error("Dispatcher failed to send failure notice", "error", sendErr, "user", userID)
		}
		return fmt.Errorf("conversation failed: %w", err)
	}
	return d.Deliver(ctx, userID, actions)
}

// Deliver sends actions in order, stopping at the first delivery error.
func (d *Dispatcher) Deliver(ctx context.Context, to string, actions []models.Action) error {
	for i, action := range actions {
		if err := action.Validate(); err != nil {
			slog.Error("Dispatcher skipping invalid action", "error", err, "to", to, "index", i)
			continue
		}
		var err error
		switch action.Type {
		case models.ActionTypeText:
			err = d.svc.SendMessage(ctx, to, action.Text)
		case models.ActionTypeImage:
			err = d.svc.SendImage(ctx, to, action.Image, action.Filename, action.Caption)
		case models.ActionTypeChoices:
			err = d.svc.SendChoices(ctx, to, action.Text, action.Choices)
		}
		if err != nil {
			return fmt.Errorf("failed to deliver %s action %d: %w", action.Type, i, err)
		}
	}
	slog.Debug("Dispatcher delivered actions", "to", to, "count", len(actions))
	return nil
}
