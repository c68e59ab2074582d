package bus

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/logging"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/tlsenv"
)

// Bus publishes and consumes registry events.
type Bus interface {
	Publish(subject string, ev *Event) error
	Subscribe(subject, queue string, handler func(*Event) error) error
}

const (
	envUseJetStream   = "NATS_USE_JETSTREAM"
	envJSAckWait      = "NATS_JS_ACK_WAIT"
	envJSMaxAge       = "NATS_JS_MAX_AGE"
	envJSMaxDeliver   = "NATS_JS_MAX_DELIVER"
	envTLSPrefix      = "NATS"
	defaultAckWait    = 10 * time.Minute
	defaultMaxAge     = 7 * 24 * time.Hour
	defaultMaxDeliver = 5

	streamSubmissions = "REGISTRY_SUBMISSIONS"
	dedupWindow       = 2 * time.Minute
)

var (
	errNilBus     = errors.New("nats bus not initialized")
	errNilEvent   = errors.New("nil bus event")
	errEmptyTopic = errors.New("empty subject")
)

// Options configures a NatsBus.
type Options struct {
	URL  string
	Name string
	// JetStream makes the submission trigger durable.
	JetStream  bool
	AckWait    time.Duration
	MaxAge     time.Duration
	MaxDeliver int
}

// OptionsFromEnv reads the NATS_* settings for url.
func OptionsFromEnv(url string) Options {
	maxDeliver := defaultMaxDeliver
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(envJSMaxDeliver))); err == nil && v > 0 {
		maxDeliver = v
	}
	return Options{
		URL:        url,
		Name:       "registry-bus",
		JetStream:  tlsenv.Enabled(os.Getenv(envUseJetStream)),
		AckWait:    envDuration(envJSAckWait, defaultAckWait),
		MaxAge:     envDuration(envJSMaxAge, defaultMaxAge),
		MaxDeliver: maxDeliver,
	}
}

// NatsBus carries JSON events over NATS. The submission trigger is durable
// when JetStream is enabled; status updates are always fire-and-forget.
type NatsBus struct {
	nc   *nats.Conn
	js   nats.JetStreamContext
	opts Options
}

// NewNatsBus dials url with settings from the environment.
func NewNatsBus(url string) (*NatsBus, error) {
	return Dial(OptionsFromEnv(url))
}

// Dial connects with explicit options.
func Dial(opts Options) (*NatsBus, error) {
	tlsCfg, err := tlsenv.FromEnv(envTLSPrefix).Config(nil)
	if err != nil {
		return nil, err
	}
	natsOpts := []nats.Option{
		nats.Name(opts.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Error("bus", "disconnected from nats", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("bus", "reconnected to nats", "url", nc.ConnectedUrl())
		}),
	}
	if tlsCfg != nil {
		natsOpts = append(natsOpts, nats.Secure(tlsCfg))
	}
	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, err
	}
	b := &NatsBus{nc: nc, opts: opts}
	if opts.JetStream {
		if err := b.ensureStream(); err != nil {
			// Core NATS still delivers triggers; the pending replayer covers losses.
			logging.Error("bus", "jetstream unavailable, using core nats", "error", err)
		}
	}
	return b, nil
}

func (b *NatsBus) ensureStream() error {
	js, err := b.nc.JetStream()
	if err != nil {
		return err
	}
	cfg := &nats.StreamConfig{
		Name:       streamSubmissions,
		Subjects:   []string{SubjectSubmissionCreated},
		Retention:  nats.WorkQueuePolicy,
		Storage:    nats.FileStorage,
		MaxAge:     b.opts.MaxAge,
		Duplicates: dedupWindow,
	}
	if _, err := js.StreamInfo(streamSubmissions); errors.Is(err, nats.ErrStreamNotFound) {
		if _, err := js.AddStream(cfg); err != nil {
			return err
		}
		logging.Info("bus", "jetstream stream created", "stream", streamSubmissions, "max_age", b.opts.MaxAge)
	} else if err != nil {
		return err
	}
	b.js = js
	logging.Info("bus", "jetstream enabled", "ack_wait", b.opts.AckWait, "max_deliver", b.opts.MaxDeliver)
	return nil
}

// Close drains subscriptions and closes the connection.
func (b *NatsBus) Close() {
	if b == nil || b.nc == nil {
		return
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
	}
}

// IsConnected reports whether the connection is currently usable.
func (b *NatsBus) IsConnected() bool {
	return b != nil && b.nc != nil && b.nc.IsConnected()
}

func (b *NatsBus) durable(subject string) bool {
	return b.js != nil && subject == SubjectSubmissionCreated
}

// Publish sends ev on subject. Durable publishes carry a dedup id so a
// retried intake does not validate twice.
func (b *NatsBus) Publish(subject string, ev *Event) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptyTopic
	}
	if ev == nil {
		return errNilEvent
	}
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	if b.durable(subject) {
		_, err = b.js.Publish(subject, data, nats.MsgId(dedupID(subject, ev)))
		return err
	}
	return b.nc.Publish(subject, data)
}

// Subscribe delivers decoded events to handler. On durable subjects the
// handler's error decides ack, delayed redelivery or termination.
func (b *NatsBus) Subscribe(subject, queue string, handler func(*Event) error) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptyTopic
	}
	if handler == nil {
		return errors.New("nil handler")
	}
	if !b.durable(subject) {
		cb := func(msg *nats.Msg) {
			settle(subject, msg.Data, 1, 1, handler)
		}
		var err error
		if queue == "" {
			_, err = b.nc.Subscribe(subject, cb)
		} else {
			_, err = b.nc.QueueSubscribe(subject, queue, cb)
		}
		return err
	}

	cb := func(msg *nats.Msg) {
		attempt := 1
		if meta, err := msg.Metadata(); err == nil {
			attempt = int(meta.NumDelivered)
		}
		action, delay := settle(subject, msg.Data, attempt, b.opts.MaxDeliver, handler)
		var err error
		switch action {
		case actNak:
			err = msg.NakWithDelay(delay)
		case actTerm:
			err = msg.Term()
		default:
			err = msg.Ack()
		}
		if err != nil {
			logging.Error("bus", "acknowledge failed", "subject", subject, "action", action, "error", err)
		}
	}
	opts := []nats.SubOpt{
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(b.opts.AckWait),
		nats.MaxDeliver(b.opts.MaxDeliver),
		nats.Durable(durableName(subject, queue)),
	}
	var err error
	if queue == "" {
		_, err = b.js.Subscribe(subject, cb, opts...)
	} else {
		_, err = b.js.QueueSubscribe(subject, queue, cb, opts...)
	}
	return err
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

// durableName is stable per subject and queue so validator replicas share one consumer.
func durableName(subject, queue string) string {
	r := strings.NewReplacer(".", "_", "-", "_", "*", "_", ">", "_")
	name := r.Replace(subject)
	if queue != "" {
		name = r.Replace(queue) + "__" + name
	}
	return name
}

func dedupID(subject string, ev *Event) string {
	return subject + ":" + ev.ID
}
