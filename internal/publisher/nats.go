package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"transit-planner/internal/matcher"
	"transit-planner/internal/transit"
)

// Planner answers planning requests; *matcher.Matcher implements it.
type Planner interface {
	Respond(ctx context.Context, req matcher.Request) *matcher.Result
}

// Publisher is the part of *nats.Conn the responder writes through.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type PublisherMetrics interface {
	NATSRequestInc()
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// Connect dials NATS and keeps the connected gauge in sync with the
// connection state.
func Connect(url string, m PublisherMetrics, log *zap.Logger) (*nats.Conn, error) {
	if log == nil {
		log = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("transit-planner"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return nc, nil
}

type Options struct {
	Subject       string        // request subject
	EventsSubject string        // plan events go to <EventsSubject>.<origin>; empty disables
	Queue         string        // queue group shared by responder replicas
	Timeout       time.Duration // per-request planning deadline
	LogSubjects   bool
}

// Responder serves planning requests over NATS request/reply.
type Responder struct {
	planner Planner
	pub     Publisher
	opts    Options
	metrics PublisherMetrics
	log     *zap.Logger
	sub     *nats.Subscription
}

func NewResponder(planner Planner, pub Publisher, opts Options, m PublisherMetrics, log *zap.Logger) *Responder {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Queue == "" {
		opts.Queue = "planner"
	}
	return &Responder{planner: planner, pub: pub, opts: opts, metrics: m, log: log}
}

// Start subscribes on the request subject. Messages are handled until ctx
// is cancelled or Close is called.
func (r *Responder) Start(ctx context.Context, nc *nats.Conn) error {
	sub, err := nc.QueueSubscribe(r.opts.Subject, r.opts.Queue, func(msg *nats.Msg) {
		r.HandleMessage(ctx, msg.Data, msg.Reply)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.opts.Subject, err)
	}
	r.sub = sub
	r.log.Info("responder listening", zap.String("subject", r.opts.Subject), zap.String("queue", r.opts.Queue))
	return nil
}

func (r *Responder) Close() {
	if r.sub != nil {
		_ = r.sub.Drain()
	}
}

// HandleMessage plans one request, replies on reply (if set) and emits a
// plan event.
func (r *Responder) HandleMessage(ctx context.Context, data []byte, reply string) *matcher.Result {
	if r.metrics != nil {
		r.metrics.NATSRequestInc()
	}
	res, req := r.handle(ctx, data)
	if reply != "" {
		r.publish(reply, res)
	}
	if r.opts.EventsSubject != "" && res.Success {
		r.publish(EventSubject(r.opts.EventsSubject, res.Origin), NewPlanEvent(req, res))
	}
	return res
}

func (r *Responder) handle(ctx context.Context, data []byte) (*matcher.Result, matcher.Request) {
	req, err := DecodeRequest(data)
	if err != nil {
		return &matcher.Result{RequestID: uuid.NewString(), Success: false, Error: err.Error()}, req
	}
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}
	return r.planner.Respond(ctx, req), req
}

func (r *Responder) publish(subject string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		r.log.Error("marshal message", zap.String("subject", subject), zap.Error(err))
		return
	}
	if r.opts.LogSubjects {
		r.log.Debug("nats publish", zap.String("subject", subject))
	}
	start := time.Now()
	err = r.pub.Publish(subject, b)
	if r.metrics != nil {
		r.metrics.PublishObserve(time.Since(start))
		if err != nil {
			r.metrics.NATSPublishErrInc()
		} else {
			r.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		r.log.Warn("nats publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

// DecodeRequest reads a JSON planning request. Absent fields keep the
// defaults of matcher.NewRequest.
func DecodeRequest(data []byte) (matcher.Request, error) {
	req := matcher.NewRequest("", "")
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("%w: decode request: %v", matcher.ErrInvalidInput, err)
	}
	return req, nil
}

// PlanEvent summarizes a successful plan for downstream consumers.
type PlanEvent struct {
	RequestID  string          `json:"requestId"`
	Origin     string          `json:"origin"`
	Direction  string          `json:"direction"`
	FlightDate string          `json:"flightDate"`
	FlightTime string          `json:"flightTime"`
	Options    int             `json:"options"`
	Best       *transit.Option `json:"best,omitempty"`
	Fallback   bool            `json:"fallback"`
	Timestamp  time.Time       `json:"timestamp"`
}

func NewPlanEvent(req matcher.Request, res *matcher.Result) PlanEvent {
	ev := PlanEvent{
		RequestID:  res.RequestID,
		Origin:     res.Origin,
		Direction:  transit.DirectionFor(req.IsDeparture).String(),
		FlightDate: req.FlightDate,
		FlightTime: req.FlightTime,
		Options:    len(res.Options),
		Fallback:   res.SourceNote != "",
		Timestamp:  time.Now().UTC(),
	}
	if len(res.Options) > 0 {
		best := res.Options[0]
		ev.Best = &best
	}
	return ev
}

func EventSubject(prefix, origin string) string {
	return fmt.Sprintf("%s.%s", prefix, subjectToken(strings.ToLower(origin)))
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
