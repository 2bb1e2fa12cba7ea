// Package listener owns the persistent delivery connection: bootstrap
// (login and device registration), the connect/authenticate/receive state
// machine, acknowledgement, and reconnect with backoff. Parsed messages are
// published to the event bus; the listener never renders or stores them
// beyond the last-message snapshot.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/HerbHall/pushlink/internal/event"
	"github.com/HerbHall/pushlink/internal/parser"
	"github.com/HerbHall/pushlink/internal/pushover"
	"github.com/HerbHall/pushlink/internal/registry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// API is the subset of the provider REST client the listener needs.
// Satisfied by *pushover.Client; tests substitute a fake.
type API interface {
	Login(ctx context.Context, creds pushover.Credentials) (*pushover.Session, error)
	RegisterDevice(ctx context.Context, session *pushover.Session, deviceName string) (*registry.DeviceIdentity, error)
	FetchMessages(ctx context.Context, deviceID, secret string) ([]json.RawMessage, error)
	AckMessage(ctx context.Context, deviceID, secret, messageID string) error
}

// Config holds the listener configuration.
type Config struct {
	DeviceName        string        `mapstructure:"device_name"`
	WebsocketURL      string        `mapstructure:"websocket_url"`
	Keepalive         time.Duration `mapstructure:"keepalive_interval"`
	FetchInterval     time.Duration `mapstructure:"fetch_interval"`
	SkipHistory       bool          `mapstructure:"skip_history"`
	BootstrapAttempts int           `mapstructure:"bootstrap_attempts"`
	Backoff           BackoffPolicy
}

func (c *Config) applyDefaults() {
	if c.WebsocketURL == "" {
		c.WebsocketURL = "wss://client.pushover.net/push"
	}
	if c.Keepalive <= 0 {
		c.Keepalive = 60 * time.Second
	}
	if c.FetchInterval <= 0 {
		c.FetchInterval = 2 * time.Second
	}
	if c.BootstrapAttempts <= 0 {
		c.BootstrapAttempts = 3
	}
	if c.Backoff == (BackoffPolicy{}) {
		c.Backoff = DefaultBackoff()
	}
}

// Status is a point-in-time snapshot of the listener for diagnostics.
// Err never contains credentials or the device secret.
type Status struct {
	State   State  `json:"state"`
	Attempt int    `json:"attempt"`
	Fatal   bool   `json:"fatal"`
	Err     string `json:"error,omitempty"`
}

// Listener drives the connection state machine for one device identity.
type Listener struct {
	cfg     Config
	api     API
	store   registry.Store
	bus     *event.Bus
	logger  *zap.Logger
	dial    Dialer
	limiter *rate.Limiter
	snap    *Snapshot

	mu      sync.Mutex
	creds   pushover.Credentials
	state   State
	attempt int
	lastErr error
	fatal   bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a listener. Call Configure before Start unless a device
// identity is already persisted.
func New(cfg Config, api API, store registry.Store, bus *event.Bus, logger *zap.Logger) *Listener {
	cfg.applyDefaults()
	return &Listener{
		cfg:     cfg,
		api:     api,
		store:   store,
		bus:     bus,
		logger:  logger,
		dial:    DialWebsocket,
		limiter: rate.NewLimiter(rate.Every(cfg.FetchInterval), 1),
		snap:    NewSnapshot(),
	}
}

// SetDialer replaces the transport dialer. Test hook.
func (l *Listener) SetDialer(d Dialer) { l.dial = d }

// Snapshot exposes the last-message store for sensor-style consumers.
func (l *Listener) Snapshot() *Snapshot { return l.snap }

// Configure sets the account credentials used when no device identity is
// persisted. Clears any fatal diagnostic so the next Start retries.
func (l *Listener) Configure(email, password string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.creds = pushover.Credentials{Email: email, Password: password}
	l.fatal = false
	l.lastErr = nil
}

// ResetDevice clears the persisted identity, forcing a fresh registration
// on the next Start. This is the only path to re-registration; transient
// failures never clear the identity.
func (l *Listener) ResetDevice(ctx context.Context) error {
	l.mu.Lock()
	running := l.cancel != nil
	l.mu.Unlock()
	if running {
		return fmt.Errorf("cannot reset device while listener is running")
	}
	if err := l.store.Clear(ctx, l.cfg.DeviceName); err != nil {
		return fmt.Errorf("clear device identity: %w", err)
	}
	l.mu.Lock()
	l.fatal = false
	l.lastErr = nil
	l.mu.Unlock()
	l.logger.Info("device identity cleared", zap.String("device_name", l.cfg.DeviceName))
	return nil
}

// Start launches the connection loop. A no-op while already running.
// Returns immediately; failures after bootstrap are reported via Status
// and the listener.error topic.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fatal {
		return fmt.Errorf("listener requires reconfiguration: %w", l.lastErr)
	}
	if l.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(runCtx)
	return nil
}

// Stop cancels the connection loop and waits for it to exit. The blocking
// network read races the cancellation signal, so Stop returns promptly
// even while no frames are arriving. A no-op when the loop already exited
// on its own.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Status returns the current state machine snapshot.
func (l *Listener) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Status{State: l.state, Attempt: l.attempt, Fatal: l.fatal}
	if l.lastErr != nil {
		s.Err = l.lastErr.Error()
	}
	return s
}

func (l *Listener) run(ctx context.Context) {
	done := l.done
	defer close(done)
	defer l.setState(ctx, Disconnected)
	// The loop owns its own teardown: clearing cancel here lets a later
	// Start observe termination (and reach the fatal-state check) even
	// when the loop exited on its own rather than through Stop.
	defer func() {
		l.mu.Lock()
		l.cancel()
		l.cancel = nil
		l.done = nil
		l.mu.Unlock()
	}()

	identity, err := l.bootstrap(ctx)
	if err != nil {
		l.fail(ctx, err)
		return
	}

	if l.cfg.SkipHistory {
		if err := l.discardBacklog(ctx, identity); err != nil {
			l.logger.Warn("failed to discard message backlog", zap.Error(err))
		}
	}

	reregistered := false
	for {
		if ctx.Err() != nil {
			return
		}

		l.setState(ctx, Connecting)
		connErr := l.connectOnce(ctx, identity)
		if ctx.Err() != nil {
			return
		}

		var rejected *authRejectedError
		if errors.As(connErr, &rejected) {
			if reregistered {
				l.fail(ctx, fmt.Errorf("device identity rejected again after re-registration: %w", connErr))
				return
			}
			l.logger.Warn("device identity rejected, attempting re-registration",
				zap.String("device_name", l.cfg.DeviceName),
			)
			if err := l.store.Clear(ctx, l.cfg.DeviceName); err != nil {
				l.fail(ctx, fmt.Errorf("clear rejected identity: %w", err))
				return
			}
			identity, err = l.bootstrap(ctx)
			if err != nil {
				l.fail(ctx, err)
				return
			}
			reregistered = true
			continue
		}

		// Transport failure, heartbeat timeout, or provider-requested
		// reconnect: back off and try again.
		l.mu.Lock()
		attempt := l.attempt
		l.attempt++
		l.lastErr = connErr
		l.mu.Unlock()

		delay := l.cfg.Backoff.Jittered(l.cfg.Backoff.Delay(attempt))
		l.logger.Warn("connection lost, reconnecting",
			zap.String("device_name", l.cfg.DeviceName),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(connErr),
		)
		reconnectsTotal.Inc()

		l.setState(ctx, Backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// authRejectedError marks a provider rejection of the device identity,
// as opposed to a transport failure.
type authRejectedError struct {
	frame byte
}

func (e *authRejectedError) Error() string {
	return fmt.Sprintf("provider rejected device identity (frame %q)", e.frame)
}

// connectOnce runs a single connection lifetime: dial, authenticate,
// receive until failure. Returns nil only on context cancellation.
func (l *Listener) connectOnce(ctx context.Context, identity *registry.DeviceIdentity) error {
	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	conn, err := l.dial(dialCtx, l.cfg.WebsocketURL)
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	l.setState(ctx, Authenticating)
	login := fmt.Sprintf("login:%s:%s\n", identity.DeviceID, identity.Secret)
	if err := conn.Write(ctx, []byte(login)); err != nil {
		return fmt.Errorf("send login frame: %w", err)
	}

	live := false
	for {
		readCtx, cancel := context.WithTimeout(ctx, 2*l.cfg.Keepalive)
		data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil // stopped
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("heartbeat timeout: no frame within %s", 2*l.cfg.Keepalive)
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if len(data) == 0 {
			continue
		}

		frame := data[0]
		framesReceivedTotal.WithLabelValues(string(frame)).Inc()

		switch frame {
		case 'E', 'A':
			return &authRejectedError{frame: frame}
		case 'R':
			return fmt.Errorf("provider requested reconnect")
		}

		// Any other frame means the provider accepted the login.
		if !live {
			live = true
			l.markLive(ctx)
			// Drain messages queued while disconnected.
			if err := l.fetchAndPublish(ctx, identity); err != nil {
				l.logger.Warn("initial message drain failed", zap.Error(err))
			}
		}

		switch frame {
		case '#':
			// Keepalive.
		case '!':
			if err := l.fetchAndPublish(ctx, identity); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				l.logger.Warn("message fetch failed", zap.Error(err))
			}
		default:
			l.logger.Debug("ignoring unknown control frame",
				zap.String("frame", string(frame)),
			)
		}
	}
}

func (l *Listener) markLive(ctx context.Context) {
	l.mu.Lock()
	l.attempt = 0
	l.lastErr = nil
	l.mu.Unlock()
	l.setState(ctx, Live)
	l.logger.Info("delivery connection live", zap.String("device_name", l.cfg.DeviceName))
}

// fetchAndPublish downloads queued messages and processes them strictly in
// id order: parse, publish, snapshot, acknowledge. Acknowledgements are
// per message and never reordered; on an ack failure the remainder of the
// batch is left unacknowledged for redelivery.
func (l *Listener) fetchAndPublish(ctx context.Context, identity *registry.DeviceIdentity) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}

	raws, err := l.api.FetchMessages(ctx, identity.DeviceID, identity.Secret)
	if err != nil {
		return err
	}

	parsed := make([]parser.ParsedMessage, 0, len(raws))
	for _, raw := range raws {
		pm, err := parser.Parse(raw, l.logger)
		if err != nil {
			// Malformed envelope: drop the frame, keep the connection.
			parseFailuresTotal.Inc()
			l.logger.Warn("dropping malformed message envelope", zap.Error(err))
			continue
		}
		parsed = append(parsed, pm)
	}
	sortByID(parsed)

	for _, pm := range parsed {
		l.bus.Publish(ctx, event.New(event.TopicMessageReceived, l.cfg.DeviceName, pm.Fields()))
		l.snap.Update(l.cfg.DeviceName, pm)
		messagesReceivedTotal.Inc()

		if err := l.api.AckMessage(ctx, identity.DeviceID, identity.Secret, pm.ID); err != nil {
			return fmt.Errorf("ack message %s: %w", pm.ID, err)
		}
	}
	return nil
}

// discardBacklog acknowledges everything currently queued without
// publishing, so a fresh install does not replay old notifications.
func (l *Listener) discardBacklog(ctx context.Context, identity *registry.DeviceIdentity) error {
	raws, err := l.api.FetchMessages(ctx, identity.DeviceID, identity.Secret)
	if err != nil || len(raws) == 0 {
		return err
	}

	maxID, count := "", 0
	for _, raw := range raws {
		msg, err := parser.Decode(raw)
		if err != nil {
			continue
		}
		if count == 0 || idLess(maxID, msg.ID) {
			maxID = msg.ID
		}
		count++
	}
	if count == 0 {
		return nil
	}
	l.logger.Info("discarding queued message backlog",
		zap.Int("count", count),
		zap.String("device_name", l.cfg.DeviceName),
	)
	return l.api.AckMessage(ctx, identity.DeviceID, identity.Secret, maxID)
}

// bootstrap loads the persisted identity, or registers a new device when
// none exists. Registration is idempotent: with a stored identity no
// network call is made. Transient login/registration failures are retried
// a bounded number of times; credential and name failures surface
// immediately as fatal.
func (l *Listener) bootstrap(ctx context.Context) (*registry.DeviceIdentity, error) {
	identity, err := l.store.Load(ctx, l.cfg.DeviceName)
	if err == nil {
		l.logger.Info("using persisted device identity",
			zap.String("device_name", l.cfg.DeviceName),
			zap.String("device_id", identity.DeviceID),
		)
		return identity, nil
	}
	if !errors.Is(err, registry.ErrNotFound) {
		return nil, fmt.Errorf("load device identity: %w", err)
	}

	l.mu.Lock()
	creds := l.creds
	l.mu.Unlock()
	if creds.Email == "" || creds.Password == "" {
		return nil, fmt.Errorf("no device identity persisted and no credentials configured")
	}

	var lastErr error
	for attempt := 0; attempt < l.cfg.BootstrapAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(l.cfg.Backoff.Jittered(l.cfg.Backoff.Delay(attempt - 1))):
			}
		}

		identity, lastErr = l.registerOnce(ctx, creds)
		if lastErr == nil {
			return identity, nil
		}
		if !transient(lastErr) {
			return nil, lastErr
		}
		l.logger.Warn("registration attempt failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}
	return nil, fmt.Errorf("registration failed after %d attempts: %w", l.cfg.BootstrapAttempts, lastErr)
}

func (l *Listener) registerOnce(ctx context.Context, creds pushover.Credentials) (*registry.DeviceIdentity, error) {
	session, err := l.api.Login(ctx, creds)
	if err != nil {
		return nil, err
	}

	identity, err := l.api.RegisterDevice(ctx, session, l.cfg.DeviceName)
	if err != nil {
		return nil, err
	}

	if err := l.store.Save(ctx, identity); err != nil {
		return nil, fmt.Errorf("persist device identity: %w", err)
	}
	return identity, nil
}

// transient reports whether a bootstrap failure is worth retrying.
func transient(err error) bool {
	var authErr *pushover.AuthError
	if errors.As(err, &authErr) {
		return authErr.Transient()
	}
	var regErr *pushover.RegistrationError
	if errors.As(err, &regErr) {
		return regErr.Transient()
	}
	// Storage failures and the like: surface immediately.
	return false
}

// fail records a fatal diagnostic. The listener stays stopped until
// Configure or ResetDevice clears the flag; nothing already delivered is
// torn down.
func (l *Listener) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	l.fatal = true
	l.lastErr = err
	l.mu.Unlock()
	l.logger.Error("listener stopped on fatal error",
		zap.String("device_name", l.cfg.DeviceName),
		zap.Error(err),
	)
	l.bus.Publish(ctx, event.New(event.TopicListenerError, l.cfg.DeviceName, err.Error()))
}

func (l *Listener) setState(ctx context.Context, s State) {
	l.mu.Lock()
	if l.state == s {
		l.mu.Unlock()
		return
	}
	l.state = s
	l.mu.Unlock()

	connectionState.Set(float64(s))
	l.logger.Debug("connection state changed", zap.Stringer("state", s))
	l.bus.Publish(context.WithoutCancel(ctx), event.New(event.TopicListenerState, l.cfg.DeviceName, s.String()))
}

// sortByID orders messages by ascending numeric id, falling back to string
// order for non-numeric ids.
func sortByID(msgs []parser.ParsedMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return idLess(msgs[i].ID, msgs[j].ID)
	})
}

func idLess(a, b string) bool {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}
