// Package explain rephrases a finished report for a technician using a
// chat-completion model. It never changes the structured report; it only
// produces an alternative prose rendering of it.
package explain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/diagtrace/engine/domain"
	"github.com/WessleyAI/diagtrace/engine/report"
	"github.com/WessleyAI/diagtrace/pkg/fn"
	"github.com/WessleyAI/diagtrace/pkg/resilience"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const systemPrompt = `You explain vehicle diagnostic session results to workshop technicians who are not protocol experts.
Rewrite the findings you are given as two or three short plain-language paragraphs.
Say which module was being worked on, what failed first and why, and what to do next.
Do not invent findings, codes or steps that are not in the input. Do not use markdown, lists or JSON.`

// ErrNoChoices is returned when the model answers without content.
var ErrNoChoices = errors.New("explain: empty completion")

// Config selects the model and the limits applied to calls.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	// RatePerSecond and Burst bound outgoing calls.
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
	Retries       int
	RetryWait     time.Duration
}

func (c *Config) defaults() {
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 400
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 1
	}
	if c.Burst <= 0 {
		c.Burst = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryWait <= 0 {
		c.RetryWait = 500 * time.Millisecond
	}
}

// Explainer is safe for concurrent use.
type Explainer struct {
	client  openai.Client
	cfg     Config
	breaker *resilience.Breaker
	log     *slog.Logger
	call    fn.Stage[string, string]
}

// New creates an Explainer. Extra request options are appended after the
// ones derived from cfg.
func New(cfg Config, log *slog.Logger, opts ...option.RequestOption) *Explainer {
	cfg.defaults()
	if log == nil {
		log = slog.Default()
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}
	reqOpts = append(reqOpts, opts...)

	e := &Explainer{
		client: openai.NewClient(reqOpts...),
		cfg:    cfg,
		log:    log,
	}
	e.breaker = resilience.NewBreaker(resilience.BreakerOpts{
		FailThreshold: 3,
		Timeout:       time.Minute,
		OnStateChange: func(from, to resilience.State) {
			log.Warn("explain circuit changed state", "from", from.String(), "to", to.String())
		},
	})
	limiter := resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.RatePerSecond, Burst: cfg.Burst})

	retry := fn.RetryOpts{
		MaxAttempts: cfg.Retries + 1,
		InitialWait: cfg.RetryWait,
		MaxWait:     10 * cfg.RetryWait,
		Jitter:      true,
		Retryable:   retryable,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			log.Debug("explain completion failed, retrying", "attempt", attempt, "wait", wait, "err", err)
		},
	}
	e.call = resilience.LimiterStageWait(limiter,
		resilience.BreakerStage(e.breaker,
			fn.RetryStage(retry, fn.TracedStage("explain.complete", e.complete))))
	return e
}

// Explain returns a plain-language rendering of r. The text is checked
// against the same prose invariant the engine enforces.
func (e *Explainer) Explain(ctx context.Context, r *domain.RootCauseReport) (string, error) {
	if r == nil {
		return "", errors.New("explain: nil report")
	}
	text, err := e.call(ctx, Prompt(r)).Unwrap()
	if err != nil {
		return "", fmt.Errorf("explain %s: %w", r.SessionID, err)
	}
	if err := domain.ValidateProse("explanation", text); err != nil {
		return "", fmt.Errorf("explain %s: %w", r.SessionID, err)
	}
	e.log.DebugContext(ctx, "report explained", "session_id", r.SessionID, "chars", len(text))
	return text, nil
}

// BreakerState reports whether the model endpoint is currently considered
// healthy.
func (e *Explainer) BreakerState() resilience.State { return e.breaker.State() }

func (e *Explainer) complete(ctx context.Context, prompt string) fn.Result[string] {
	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(e.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature:         openai.Float(e.cfg.Temperature),
		MaxCompletionTokens: openai.Int(int64(e.cfg.MaxTokens)),
	})
	if err != nil {
		return fn.Err[string](err)
	}
	if len(resp.Choices) == 0 {
		return fn.Err[string](ErrNoChoices)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return fn.Err[string](ErrNoChoices)
	}
	return fn.Ok(text)
}

// retryable treats rate limiting and server-side failures as transient.
func retryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, ErrNoChoices)
}

// Prompt renders the report's typed fields as the user message.
func Prompt(r *domain.RootCauseReport) string {
	var b strings.Builder

	b.WriteString("Target module: ")
	if r.PrimaryModule.IsFallback {
		b.WriteString("could not be identified from the log")
	} else {
		b.WriteString(r.PrimaryModule.Name)
		b.WriteString(" at address ")
		b.WriteString(r.PrimaryModule.Address)
	}
	b.WriteString("\n")

	if root := r.Chain.Root; root != nil {
		b.WriteString("Root failure: ")
		b.WriteString(root.Category.Label())
		b.WriteString(" on log line ")
		b.WriteString(strconv.Itoa(root.Event.LineNumber))
		b.WriteString(": \"")
		b.WriteString(report.Excerpt(root.Event.RawText, report.DefaultExcerptLimit))
		b.WriteString("\"\n")
	} else {
		b.WriteString("Root failure: none, the session contains no errors\n")
	}

	if len(r.Chain.Symptoms) > 0 {
		b.WriteString("Downstream symptoms: ")
		for i, s := range r.Chain.Symptoms {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(s.Category.Label())
			b.WriteString(" on line ")
			b.WriteString(strconv.Itoa(s.Event.LineNumber))
		}
		b.WriteString("\n")
	}
	if n := len(r.Chain.Unrelated); n > 0 {
		b.WriteString("Other errors not linked to the root: ")
		b.WriteString(strconv.Itoa(n))
		b.WriteString("\n")
	}
	for _, nrc := range r.NRCs {
		b.WriteString("Negative response 0x")
		b.WriteString(nrc.Code)
		b.WriteString(" (")
		b.WriteString(nrc.Text)
		b.WriteString(") seen ")
		b.WriteString(strconv.Itoa(nrc.Count))
		b.WriteString(" times\n")
	}

	b.WriteString("Confidence: ")
	b.WriteString(strconv.Itoa(int(r.Confidence*100 + 0.5)))
	b.WriteString(" percent\n")
	b.WriteString("Summary: ")
	b.WriteString(r.ProximateCause)
	b.WriteString("\n")

	if len(r.Recommendations) > 0 {
		b.WriteString("Recommended steps in order:\n")
		for i, rec := range r.Recommendations {
			b.WriteString(strconv.Itoa(i + 1))
			b.WriteString(". [")
			b.WriteString(string(rec.Priority))
			b.WriteString("] ")
			b.WriteString(rec.Step)
			b.WriteString("\n")
		}
	}
	return b.String()
}
