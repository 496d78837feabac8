package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"siteplan/domain"
	"siteplan/observability"
)

const (
	// DefaultTimeout bounds one generator call.
	DefaultTimeout = 60 * time.Second

	tracerName        = "siteplan/advisor"
	analyzeSpanName   = "advisor.analyze"
	analyzeEventName  = "advisor.analysis"
	advisorDomainName = "advisor"
)

const (
	outcomeOK       = "ok"
	outcomeFailed   = "failed"
	outcomeTimeout  = "timeout"
	outcomeCanceled = "canceled"
)

// Client turns a task snapshot into an Advice. Analyze never fails; every
// problem becomes a failed Advice carrying a user-facing message.
type Client struct {
	gen     Generator
	timeout time.Duration
	lang    Language
	logger  *log.Logger
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLanguage(lang Language) Option {
	return func(c *Client) { c.lang = lang }
}

func WithLogger(logger *log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient wraps gen. A nil generator yields failed advice on every call.
func NewClient(gen Generator, opts ...Option) *Client {
	c := &Client{
		gen:     gen,
		timeout: DefaultTimeout,
		lang:    LanguageZhTW,
		logger:  log.StandardLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Language reports the language of prompts and messages.
func (c *Client) Language() Language { return c.lang }

// Analyze asks the generator about tasks.
func (c *Client) Analyze(ctx context.Context, tasks []domain.Task) domain.Advice {
	ctx, span := otel.Tracer(tracerName).Start(ctx, analyzeSpanName)
	start := time.Now()

	advice, outcome, err := c.analyze(ctx, tasks)

	severity := observability.SeverityInfo
	switch outcome {
	case outcomeFailed:
		severity = observability.SeverityError
	case outcomeTimeout, outcomeCanceled:
		severity = observability.SeverityWarn
	}
	observability.Emit(c.logger, span, observability.Event{
		Name:     analyzeEventName,
		Domain:   advisorDomainName,
		Severity: severity,
		Err:      err,
		Attributes: []attribute.KeyValue{
			attribute.String("siteplan.advisor.outcome", outcome),
			attribute.String("siteplan.advisor.language", string(c.lang)),
			attribute.Int("siteplan.advisor.tasks", len(tasks)),
			attribute.Int("siteplan.advisor.response_chars", len([]rune(advice.Text))),
			attribute.Float64("siteplan.advisor.duration_ms", float64(time.Since(start))/float64(time.Millisecond)),
		},
	})
	return advice
}

type generated struct {
	text string
	err  error
}

func (c *Client) analyze(ctx context.Context, tasks []domain.Task) (domain.Advice, string, error) {
	msgs := catalogFor(c.lang)
	fail := func(outcome, message string, err error) (domain.Advice, string, error) {
		return domain.AdviceFailed(message, err.Error(), c.now()), outcome, err
	}

	if c.gen == nil {
		return fail(outcomeFailed, msgs.fallback, errors.New("advisor: no generator configured"))
	}
	prompt, err := BuildPrompt(tasks, c.lang)
	if err != nil {
		return fail(outcomeFailed, msgs.fallback, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// The generator runs on its own goroutine so a client that ignores ctx
	// still cannot hold the caller past the timeout.
	done := make(chan generated, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- generated{err: fmt.Errorf("advisor: generator panic: %v", r)}
			}
		}()
		text, err := c.gen.Generate(callCtx, prompt)
		done <- generated{text: text, err: err}
	}()

	var res generated
	select {
	case res = <-done:
	case <-callCtx.Done():
		res = generated{err: callCtx.Err()}
	}

	if res.err != nil {
		switch {
		case errors.Is(res.err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
			return fail(outcomeTimeout, msgs.timeout, fmt.Errorf("advisor: no answer within %s: %w", c.timeout, res.err))
		case errors.Is(res.err, context.Canceled):
			return fail(outcomeCanceled, msgs.fallback, res.err)
		default:
			return fail(outcomeFailed, msgs.fallback, res.err)
		}
	}
	if strings.TrimSpace(res.text) == "" {
		return fail(outcomeFailed, msgs.fallback, ErrEmptyResponse)
	}
	return domain.AdviceSucceeded(res.text, c.now()), outcomeOK, nil
}
