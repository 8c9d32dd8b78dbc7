// Package broker implements an in-process pub/sub engine: topics,
// subscriptions, per-subscription queues, ordering, lease-based
// acknowledgment, retry backoff, dead-letter routing, and flow control.
//
// A *Broker is constructed explicitly via New and passed by the caller to
// whatever wraps it (see pkg/pubsub); there is no package-level singleton.
package broker

import (
	"time"

	"github.com/donlair/pubsub/pkg/concurrency"
	"github.com/donlair/pubsub/pkg/datastructures/set"
	"github.com/donlair/pubsub/pkg/logger"
)

const (
	defaultAckDeadlineSeconds       = 10
	minAckDeadlineSeconds           = 10
	maxAckDeadlineSeconds           = 600
	defaultMessageRetention         = 7 * 24 * time.Hour
	minMessageRetention             = 600 * time.Second
	maxMessageRetention             = 604800 * time.Second
	defaultQueueMaxMessages   int64 = 10000
	defaultQueueMaxBytes      int64 = 100 * 1024 * 1024
	leaseExpiryAge                  = 10 * time.Minute
)

// TopicMetadata carries the optional descriptive fields a topic can be
// registered with. The core never interprets these; it only stores and
// returns them.
type TopicMetadata struct {
	Labels            map[string]string
	RetentionDuration time.Duration
}

// RetryPolicy bounds the exponential backoff applied on nack.
type RetryPolicy struct {
	MinimumBackoff time.Duration
	MaximumBackoff time.Duration
}

// DeadLetterPolicy names where and when to give up redelivering to the
// origin subscription.
type DeadLetterPolicy struct {
	DeadLetterTopic     string
	MaxDeliveryAttempts int
}

// FlowControl caps concurrent in-flight messages on a subscription.
type FlowControl struct {
	MaxMessages          int64
	MaxBytes             int64
	AllowExcessMessages  bool
}

// SubscriptionOptions configures a subscription at registration time.
type SubscriptionOptions struct {
	AckDeadlineSeconds       int
	EnableMessageOrdering    bool
	RetryPolicy              *RetryPolicy
	DeadLetterPolicy         *DeadLetterPolicy
	FlowControl              *FlowControl
	MessageRetentionDuration time.Duration
	QueueMaxMessages         int64
	QueueMaxBytes            int64
}

func (o *SubscriptionOptions) applyDefaults() {
	if o.AckDeadlineSeconds == 0 {
		o.AckDeadlineSeconds = defaultAckDeadlineSeconds
	}
	if o.MessageRetentionDuration == 0 {
		o.MessageRetentionDuration = defaultMessageRetention
	}
	if o.QueueMaxMessages == 0 {
		o.QueueMaxMessages = defaultQueueMaxMessages
	}
	if o.QueueMaxBytes == 0 {
		o.QueueMaxBytes = defaultQueueMaxBytes
	}
}

type topicState struct {
	name          string
	meta          TopicMetadata
	subscriptions *set.Set[string]
}

type subscriptionState struct {
	name  string
	topic string
	opts  SubscriptionOptions
	queue *subscriptionQueue
}

// BrokerConfig tunes the broker's background behavior. It carries env
// struct tags so a host process can load it through
// pkg/config.Load the same way every other tunable in this module is
// loaded, even though pkg/pubsub normally constructs SubscriptionOptions
// programmatically.
type BrokerConfig struct {
	SweepInterval    time.Duration `env:"BROKER_SWEEP_INTERVAL" env-default:"60s"`
	MutexDebug       bool          `env:"BROKER_MUTEX_DEBUG" env-default:"false"`
	MutexSlowThreshold time.Duration `env:"BROKER_MUTEX_SLOW_THRESHOLD" env-default:"100ms"`
}

func (c *BrokerConfig) applyDefaults() {
	if c.SweepInterval == 0 {
		c.SweepInterval = 60 * time.Second
	}
	if c.MutexSlowThreshold == 0 {
		c.MutexSlowThreshold = 100 * time.Millisecond
	}
}

// Broker is the engine: a single shared runtime state guarded by one
// coarse mutex, matching the "use one coarse lock for the whole broker to
// begin" guidance — finer granularity is an optimization adopted only once
// a benchmark shows the coarse lock is the bottleneck.
type Broker struct {
	mu            *concurrency.SmartMutex
	cfg           BrokerConfig
	scheduler     Scheduler
	ownsScheduler bool

	topics        map[string]*topicState
	subscriptions map[string]*subscriptionState
	leaseIndex    map[string]*lease

	sweepCancel CancelFunc
}

// New constructs a Broker with its own heapScheduler and starts the
// cleanup sweep. Callers own the returned handle; there is no default
// instance.
func New(cfg BrokerConfig) *Broker {
	cfg.applyDefaults()
	sched := NewHeapScheduler()
	b := newBroker(cfg, sched)
	b.ownsScheduler = true
	return b
}

// NewWithScheduler constructs a Broker driven by a caller-supplied
// Scheduler, primarily so tests can pass a fakeScheduler and drive ack
// deadlines and backoff deterministically via Advance.
func NewWithScheduler(cfg BrokerConfig, sched Scheduler) *Broker {
	cfg.applyDefaults()
	return newBroker(cfg, sched)
}

func newBroker(cfg BrokerConfig, sched Scheduler) *Broker {
	b := &Broker{
		mu: concurrency.NewSmartMutex(concurrency.MutexConfig{
			Name:          "broker",
			DebugMode:     cfg.MutexDebug,
			SlowThreshold: cfg.MutexSlowThreshold,
		}),
		cfg:           cfg,
		scheduler:     sched,
		topics:        make(map[string]*topicState),
		subscriptions: make(map[string]*subscriptionState),
		leaseIndex:    make(map[string]*lease),
	}
	b.armSweep()
	return b
}

// Close stops the cleanup sweep and, if the broker created its own
// scheduler, stops that too. In-flight leases are not touched; a Close'd
// broker is simply inert.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.sweepCancel != nil {
		b.sweepCancel()
		b.sweepCancel = nil
	}
	b.mu.Unlock()

	if b.ownsScheduler {
		if hs, ok := b.scheduler.(*heapScheduler); ok {
			hs.Stop()
		}
	}
}

func (b *Broker) armSweep() {
	var tick func()
	tick = func() {
		b.runSweep()
		b.mu.Lock()
		if b.sweepCancel != nil {
			b.sweepCancel = b.scheduler.AfterFunc(b.cfg.SweepInterval, tick)
		}
		b.mu.Unlock()
	}
	b.sweepCancel = b.scheduler.AfterFunc(b.cfg.SweepInterval, tick)
}

func (b *Broker) runSweep() {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("cleanup sweep recovered from panic", "panic", r)
		}
	}()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sweepLocked()
}
