package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"graminbus/internal/bus"
	"graminbus/internal/logging"
)

var ErrNotConnected = errors.New("nats not connected")

const DefaultPrefix = "graminbus"

// NATSPublisher delivers queued updates, reports reachability and publishes
// live positions over a single NATS connection.
type NATSPublisher struct {
	nc           *nats.Conn
	prefix       string
	logSubjects  bool
	flushTimeout time.Duration
	metrics      PublisherMetrics
	log          *zap.Logger

	mu   sync.Mutex
	subs map[int]func(bool)
	next int
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

type Options struct {
	URL          string
	Prefix       string
	LogSubjects  bool
	FlushTimeout time.Duration
}

func NewNATSPublisher(opts Options, log *zap.Logger, m PublisherMetrics) (*NATSPublisher, error) {
	p := &NATSPublisher{
		prefix:       opts.Prefix,
		logSubjects:  opts.LogSubjects,
		flushTimeout: opts.FlushTimeout,
		metrics:      m,
		log:          logging.OrNop(log).Named("nats"),
		subs:         make(map[int]func(bool)),
	}
	if p.prefix == "" {
		p.prefix = DefaultPrefix
	}
	if p.flushTimeout <= 0 {
		p.flushTimeout = 5 * time.Second
	}

	nc, err := nats.Connect(opts.URL,
		nats.Name("graminbus"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ConnectHandler(func(_ *nats.Conn) {
			p.log.Info("nats connected")
			p.setConnected(true)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			p.log.Warn("nats disconnected", zap.Error(err))
			p.setConnected(false)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			p.log.Info("nats reconnected")
			p.setConnected(true)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			p.log.Info("nats closed")
			p.setConnected(false)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	p.nc = nc
	if m != nil {
		m.NATSSetConnected(nc.IsConnected())
	}
	return p, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

func (p *NATSPublisher) setConnected(connected bool) {
	if p.metrics != nil {
		p.metrics.NATSSetConnected(connected)
	}
	p.mu.Lock()
	fns := make([]func(bool), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(connected)
	}
}

// Online reports whether the connection is currently established.
func (p *NATSPublisher) Online() (bool, bool) {
	if p.nc == nil {
		return false, false
	}
	return p.nc.IsConnected(), true
}

// Subscribe registers fn for connection state changes.
func (p *NATSPublisher) Subscribe(fn func(bool)) func() {
	p.mu.Lock()
	id := p.next
	p.next++
	p.subs[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// Deliver publishes each update in order and waits for the server to
// acknowledge the batch with a flush round trip.
func (p *NATSPublisher) Deliver(ctx context.Context, updates []bus.PendingUpdate) error {
	if p.nc == nil || !p.nc.IsConnected() {
		return ErrNotConnected
	}
	for _, u := range updates {
		b, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("marshal update %s: %w", u.ID, err)
		}
		if err := p.publish(UpdateSubject(p.prefix, u.BusID), b); err != nil {
			return fmt.Errorf("publish update %s: %w", u.ID, err)
		}
	}
	fctx, cancel := context.WithTimeout(ctx, p.flushTimeout)
	defer cancel()
	if err := p.nc.FlushWithContext(fctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

// PublishPosition sends a live position on the route/bus subject.
func (p *NATSPublisher) PublishPosition(pos bus.Position) error {
	b, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	return p.publish(PositionSubject(p.prefix, pos.Route, pos.BusID), b)
}

func (p *NATSPublisher) publish(subject string, data []byte) error {
	if p.logSubjects {
		p.log.Debug("nats publish", zap.String("subject", subject), zap.Int("bytes", len(data)))
	}
	start := time.Now()
	err := p.nc.Publish(subject, data)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func UpdateSubject(prefix, busID string) string {
	return fmt.Sprintf("%s.updates.%s", prefix, subjectToken(busID))
}

func PositionSubject(prefix, route, busID string) string {
	return fmt.Sprintf("%s.positions.%s.%s", prefix, subjectToken(route), subjectToken(busID))
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
