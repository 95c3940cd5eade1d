package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
	"github.com/kirillkom/marketplace-categorizer/internal/core/ports"
	"github.com/kirillkom/marketplace-categorizer/internal/infrastructure/resilience"
)

// JobObserver receives worker-side job telemetry.
type JobObserver interface {
	StartJob()
	FinishJob(service string, duration time.Duration, err error)
	ObserveQueueLag(service string, lag time.Duration)
}

type Queue struct {
	conn            *nats.Conn
	classifySubject string
	resultSubject   string
	queueGroup      string
	service         string
	executor        *resilience.Executor
	observer        JobObserver
}

type Options struct {
	ResultSubject        string
	QueueGroup           string
	Service              string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Observer             JobObserver
}

func New(url, classifySubject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	if options.QueueGroup == "" {
		options.QueueGroup = "categorizer-workers"
	}
	if options.Service == "" {
		options.Service = "worker"
	}

	conn, err := nats.Connect(
		url,
		nats.Name("marketplace-categorizer"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:            conn,
		classifySubject: classifySubject,
		resultSubject:   options.ResultSubject,
		queueGroup:      options.QueueGroup,
		service:         options.Service,
		executor:        options.ResilienceExecutor,
		observer:        options.Observer,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// SubscribeClassifyJobs consumes jobs as a member of the queue group until ctx
// ends, then drains in-flight messages. Each job is answered on the message
// reply subject, or on the result subject when the sender did not wait.
func (q *Queue) SubscribeClassifyJobs(ctx context.Context, handler ports.ClassifyJobHandler) error {
	sub, err := q.conn.QueueSubscribe(q.classifySubject, q.queueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		reply := q.process(handlerCtx, msg.Data, handler)
		subject := msg.Reply
		if subject == "" {
			subject = q.resultSubject
		}
		if subject == "" {
			slog.Warn("classify_job_reply_dropped", "job_id", reply.JobID, "reason", "no reply or result subject")
			return
		}
		if err := q.publishReply(handlerCtx, subject, reply); err != nil {
			slog.Error("classify_job_reply_failed", "job_id", reply.JobID, "subject", subject, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (q *Queue) process(ctx context.Context, data []byte, handler ports.ClassifyJobHandler) ClassifyReply {
	started := time.Now()
	if q.observer != nil {
		q.observer.StartJob()
	}

	job, reply, err := handleJob(ctx, data, handler)

	if q.observer != nil {
		if job.SubmittedAt != nil {
			q.observer.ObserveQueueLag(q.service, started.Sub(*job.SubmittedAt))
		}
		q.observer.FinishJob(q.service, time.Since(started), err)
	}
	if err != nil {
		slog.Error("classify_job_failed", "job_id", reply.JobID, "marketplace", job.Marketplace, "error", err)
	} else {
		slog.Info("classify_job_completed", "job_id", reply.JobID, "results", len(reply.Results),
			"duration_ms", float64(time.Since(started).Microseconds())/1000.0)
	}
	return reply
}

func (q *Queue) publishReply(ctx context.Context, subject string, reply ClassifyReply) error {
	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("encode classify reply: %w", err)
	}
	return q.publish(ctx, subject, data)
}

func (q *Queue) publish(ctx context.Context, subject string, data []byte) error {
	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// SubmitClassifyJob publishes a job without waiting; the worker answers on
// the result subject.
func (q *Queue) SubmitClassifyJob(ctx context.Context, job ClassifyJob) (string, error) {
	data, job, err := encodeJob(job)
	if err != nil {
		return "", err
	}
	return job.JobID, q.publish(ctx, q.classifySubject, data)
}

// RequestClassification publishes a job and waits for the worker reply.
func (q *Queue) RequestClassification(ctx context.Context, job ClassifyJob) (*ClassifyReply, error) {
	data, _, err := encodeJob(job)
	if err != nil {
		return nil, err
	}
	msg, err := q.conn.RequestWithContext(ctx, q.classifySubject, data)
	if err != nil {
		return nil, wrapTemporaryIfNeeded(fmt.Errorf("nats request: %w", err))
	}
	var reply ClassifyReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("decode classify reply: %w", err)
	}
	return &reply, nil
}

func encodeJob(job ClassifyJob) ([]byte, ClassifyJob, error) {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.SubmittedAt == nil {
		now := time.Now().UTC()
		job.SubmittedAt = &now
	}
	if len(job.Product) == 0 {
		return nil, job, domain.WrapError(domain.ErrInvalidInput, "submit classify job", errors.New("product is required"))
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, job, fmt.Errorf("encode classify job: %w", err)
	}
	return data, job, nil
}
