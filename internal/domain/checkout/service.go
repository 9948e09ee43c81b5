// Package checkout implements the checkout flow: a per-session state machine
// that turns a cart snapshot into a single payment attempt per submission and
// records the displayed outcome.
//
//	idle --Submit--> processing --ok--> success
//	                 processing --fail--> error --Submit--> processing
package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/payment"
)

// Outcome describes a finished payment attempt.
type Outcome struct {
	SessionID string
	State     State
	Total     string
	Error     string
	Attempt   int
	At        time.Time
}

// Notifier receives finished attempts. Delivery is best effort: a failing
// notifier never changes the checkout state.
type Notifier interface {
	Notify(ctx context.Context, o Outcome) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Outcome) error { return nil }

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the outcome notifier. A nil notifier keeps the no-op
// default.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithSubmitTimeout bounds each outbound sink call. Zero disables the bound.
func WithSubmitTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithNotifyTimeout bounds each outcome notification. Zero disables the
// bound.
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Service) { s.notifyTimeout = d }
}

// WithMeterProvider sets the provider used for checkout metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// attempt is an in-flight submission. closed is set when the session is
// closed while the sink call is running; its result is then discarded.
type attempt struct {
	cancel context.CancelFunc
	closed bool
}

type serviceMetrics struct {
	submissions metric.Int64Counter
	outcomes    metric.Int64Counter
	duration    metric.Float64Histogram
}

// Service is the checkout flow controller.
type Service struct {
	store         Store
	sink          payment.Sink
	notifier      Notifier
	timeout       time.Duration
	notifyTimeout time.Duration
	now           func() time.Time
	meterProvider metric.MeterProvider
	metrics       serviceMetrics

	mu       sync.Mutex
	inflight map[string]*attempt
	wg       sync.WaitGroup
}

// NewService creates a checkout Service recording payments through sink and
// keeping sessions in store.
func NewService(store Store, sink payment.Sink, opts ...Option) (*Service, error) {
	s := &Service{
		store:         store,
		sink:          sink,
		notifier:      nopNotifier{},
		timeout:       30 * time.Second,
		notifyTimeout: 5 * time.Second,
		now:           time.Now,
		meterProvider: noop.NewMeterProvider(),
		inflight:      make(map[string]*attempt),
	}
	for _, o := range opts {
		o(s)
	}

	meter := s.meterProvider.Meter("github.com/xenking/storefront/checkout")
	var err error
	if s.metrics.submissions, err = meter.Int64Counter("checkout.submissions",
		metric.WithDescription("Payment submissions started"),
	); err != nil {
		return nil, errors.Wrap(err, "submissions counter")
	}
	if s.metrics.outcomes, err = meter.Int64Counter("checkout.outcomes",
		metric.WithDescription("Finished payment attempts by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "outcomes counter")
	}
	if s.metrics.duration, err = meter.Float64Histogram("checkout.sink.duration",
		metric.WithDescription("Payment sink call duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, errors.Wrap(err, "sink duration histogram")
	}

	return s, nil
}

// Start opens a checkout session for the given cart snapshot in the idle
// state.
func (s *Service) Start(ctx context.Context, items []cart.Item) (*Session, error) {
	if err := cart.Validate(items); err != nil {
		return nil, err
	}

	now := s.now()
	sess := &Session{
		ID:        uuid.New().String(),
		Items:     append([]cart.Item{}, items...),
		State:     StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "create session")
	}

	zctx.From(ctx).Info("Checkout started",
		zap.String("session_id", sess.ID),
		zap.Int("items", len(sess.Items)),
		zap.String("total", sess.FormattedTotal()),
	)
	return sess.Clone(), nil
}

// Get returns the current snapshot of a session.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Submit moves the session to processing, records exactly one payment
// through the sink and returns the session in its resulting state.
func (s *Service) Submit(ctx context.Context, id string, card CardDetails) (*Session, error) {
	sess, actx, a, err := s.begin(ctx, id, card)
	if err != nil {
		return nil, err
	}
	return s.run(actx, a, sess, card)
}

// SubmitAsync moves the session to processing and records the payment in the
// background. The returned snapshot is in the processing state; poll Get for
// the outcome. The attempt outlives ctx and is stopped only by Close or
// Shutdown.
func (s *Service) SubmitAsync(ctx context.Context, id string, card CardDetails) (*Session, error) {
	sess, actx, a, err := s.begin(context.WithoutCancel(ctx), id, card)
	if err != nil {
		return nil, err
	}

	snapshot := sess.Clone()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.run(actx, a, sess, card); err != nil && !errors.Is(err, ErrSessionClosed) {
			zctx.From(actx).Error("Background payment attempt failed",
				zap.String("session_id", sess.ID),
				zap.Error(err),
			)
		}
	}()
	return snapshot, nil
}

// Close ends a checkout view: the session is deleted, then an in-flight
// attempt is cancelled and its late result is never applied. When the delete
// fails the attempt keeps running and its outcome is stored as usual.
func (s *Service) Close(ctx context.Context, id string) error {
	err := s.store.Delete(ctx, id)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return errors.Wrap(err, "delete session")
	}

	s.mu.Lock()
	if a, ok := s.inflight[id]; ok {
		a.closed = true
		a.cancel()
		delete(s.inflight, id)
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	zctx.From(ctx).Info("Checkout closed", zap.String("session_id", id))
	return nil
}

// Shutdown cancels every in-flight attempt and waits for background attempts
// to finish or ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, a := range s.inflight {
		a.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for payment attempts")
	}
}

// begin reserves the session for a new attempt and persists the processing
// state. The returned context is cancelled by Close or Shutdown.
func (s *Service) begin(ctx context.Context, id string, card CardDetails) (*Session, context.Context, *attempt, error) {
	actx, cancel := context.WithCancel(ctx)
	a := &attempt{cancel: cancel}

	s.mu.Lock()
	if _, busy := s.inflight[id]; busy {
		s.mu.Unlock()
		cancel()
		return nil, nil, nil, ErrSubmitInProgress
	}
	s.inflight[id] = a
	s.mu.Unlock()

	sess, err := s.store.Get(ctx, id)
	if err != nil {
		s.release(id, a)
		return nil, nil, nil, err
	}

	switch {
	case sess.State == StateSuccess:
		s.release(id, a)
		return nil, nil, nil, ErrAlreadyPaid
	case sess.State == StateProcessing && !s.stale(sess):
		// Another process owns the attempt.
		s.release(id, a)
		return nil, nil, nil, ErrSubmitInProgress
	}

	sess.State = StateProcessing
	sess.Error = ""
	sess.Attempts++
	sess.UpdatedAt = s.now()
	if err := s.store.Update(ctx, sess); err != nil {
		s.release(id, a)
		return nil, nil, nil, errors.Wrap(err, "mark processing")
	}

	s.metrics.submissions.Add(ctx, 1)
	zctx.From(ctx).Info("Payment submitted",
		zap.String("session_id", sess.ID),
		zap.Int("attempt", sess.Attempts),
		zap.String("total", sess.FormattedTotal()),
		zap.String("card", payment.MaskNumber(card.Number)),
	)
	return sess, actx, a, nil
}

// run performs the single outbound call of an attempt and applies its
// result.
func (s *Service) run(actx context.Context, a *attempt, sess *Session, card CardDetails) (*Session, error) {
	tx := payment.Transaction{
		ID:        uuid.New().String(),
		SessionID: sess.ID,
		Amount:    sess.Total(),
		Card:      card.Capped().card(),
	}

	callCtx := actx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(actx, s.timeout)
		defer cancel()
	}

	start := s.now()
	sinkErr := s.sink.Record(callCtx, tx)
	s.metrics.duration.Record(actx, s.now().Sub(start).Seconds())

	return s.finish(actx, a, sess, sinkErr)
}

// finish applies the sink result unless the session was closed meanwhile.
func (s *Service) finish(actx context.Context, a *attempt, sess *Session, sinkErr error) (*Session, error) {
	defer s.release(sess.ID, a)
	lg := zctx.From(actx).With(zap.String("session_id", sess.ID), zap.Int("attempt", sess.Attempts))

	s.mu.Lock()
	closed := a.closed
	s.mu.Unlock()
	if closed {
		s.metrics.outcomes.Add(actx, 1, metric.WithAttributes(attribute.String("outcome", "discarded")))
		lg.Info("Discarding late payment result", zap.Bool("failed", sinkErr != nil))
		return nil, ErrSessionClosed
	}

	// The attempt context may already be cancelled; the outcome must still
	// be stored.
	ctx := context.WithoutCancel(actx)

	if sinkErr != nil {
		sess.State = StateError
		sess.Error = payment.Message(sinkErr)
		lg.Warn("Payment failed", zap.Error(sinkErr), zap.String("message", sess.Error))
	} else {
		sess.State = StateSuccess
		sess.Error = ""
		lg.Info("Payment succeeded", zap.String("total", sess.FormattedTotal()))
	}
	sess.UpdatedAt = s.now()

	if err := s.store.Update(ctx, sess); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionClosed
		}
		return nil, errors.Wrap(err, "store outcome")
	}
	// The stored outcome already accepts a resubmission.
	s.release(sess.ID, a)
	s.metrics.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", sess.State.String())))

	nctx := ctx
	if s.notifyTimeout > 0 {
		var cancel context.CancelFunc
		nctx, cancel = context.WithTimeout(ctx, s.notifyTimeout)
		defer cancel()
	}
	if err := s.notifier.Notify(nctx, Outcome{
		SessionID: sess.ID,
		State:     sess.State,
		Total:     sess.FormattedTotal(),
		Error:     sess.Error,
		Attempt:   sess.Attempts,
		At:        sess.UpdatedAt,
	}); err != nil {
		lg.Warn("Outcome notification failed", zap.Error(err))
	}

	return sess.Clone(), nil
}

// release frees the in-flight slot held by a, if it still holds it. It is
// safe to call more than once.
func (s *Service) release(id string, a *attempt) {
	s.mu.Lock()
	if s.inflight[id] == a {
		delete(s.inflight, id)
	}
	s.mu.Unlock()
	a.cancel()
}

// stale reports whether a processing session was abandoned by a process that
// never recorded its outcome.
func (s *Service) stale(sess *Session) bool {
	staleAfter := 2 * s.timeout
	if staleAfter < time.Minute {
		staleAfter = time.Minute
	}
	return s.now().Sub(sess.UpdatedAt) > staleAfter
}
