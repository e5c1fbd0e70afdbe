package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/quotefill/internal/model"
	"github.com/sells-group/quotefill/internal/resilience"
	"github.com/sells-group/quotefill/pkg/anthropic"
)

// ClientConfig holds the model call settings for extraction.
type ClientConfig struct {
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	// RequestsPerSecond and Burst bound the call rate across concurrent
	// batches. Zero disables rate limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	// RetryAttempts is the total number of tries per batch on transient
	// failures.
	RetryAttempts int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	// RequestTimeout bounds each individual model round trip so one hung
	// call can't stall a batch past its retry budget.
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	// BatchPollTimeout bounds how long a Message Batches submission is
	// polled before the run gives up on it.
	BatchPollTimeout time.Duration `yaml:"batch_poll_timeout" mapstructure:"batch_poll_timeout"`
}

// DefaultClientConfig returns the standard extraction call settings.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Model:             "claude-sonnet-4-5-20250929",
		MaxTokens:         4096,
		Temperature:       0.0,
		RequestsPerSecond: 2,
		Burst:             4,
		RetryAttempts:     3,
		RequestTimeout:    60 * time.Second,
		BatchPollTimeout:  30 * time.Minute,
	}
}

// Answer is one field's raw extraction before verification and rules.
type Answer struct {
	Value      string
	Confidence float64
	// Defaulted marks values the model never produced validly; they carry
	// the field default and a low-confidence status downstream.
	Defaulted bool
}

// Extractor turns one batch of fields into answers via the model API.
type Extractor struct {
	client  anthropic.Client
	cfg     ClientConfig
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	log     *zap.Logger
}

// NewExtractor builds an Extractor. The circuit breaker trips after repeated
// API failures so a dead upstream fails runs fast instead of burning retries
// on every batch.
func NewExtractor(client anthropic.Client, cfg ClientConfig) *Extractor {
	if cfg.Model == "" {
		cfg.Model = DefaultClientConfig().Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultClientConfig().MaxTokens
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultClientConfig().RetryAttempts
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultClientConfig().RequestTimeout
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Extractor{
		client:  client,
		cfg:     cfg,
		limiter: limiter,
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		log:     zap.L().Named("extract"),
	}
}

// ExtractBatch runs one batch through the model and returns an answer per
// field. Schema violations get one repair round-trip; fields still invalid
// after that come back defaulted. A transport failure after retries is
// returned as an error so the caller can mark the whole batch unresolved.
func (e *Extractor) ExtractBatch(ctx context.Context, asm *Assembler, batch model.Batch, examples map[string][]model.Example) (map[string]Answer, error) {
	prompt := asm.BatchPrompt(batch, examples)
	messages := []anthropic.Message{{Role: "user", Content: prompt}}

	raw, text, err := e.call(ctx, asm.System(), messages)
	if err != nil {
		return nil, eris.Wrapf(err, "extract batch %d", batch.Seq)
	}

	answers, violations := validate(raw, batch)
	if len(violations) == 0 {
		return answers, nil
	}

	// One repair attempt with the violation list.
	e.log.Info("schema violations, requesting repair",
		zap.Int("batch", batch.Seq),
		zap.Strings("violations", violations))
	messages = append(messages,
		anthropic.Message{Role: "assistant", Content: text},
		anthropic.Message{Role: "user", Content: asm.RepairPrompt(strings.Join(violations, "; "))},
	)
	raw, _, err = e.call(ctx, asm.System(), messages)
	if err == nil {
		repaired, remaining := validate(raw, batch)
		if len(remaining) < len(violations) {
			answers, violations = repaired, remaining
		}
	} else {
		e.log.Warn("repair call failed, keeping defaults", zap.Int("batch", batch.Seq), zap.Error(err))
	}
	if len(violations) > 0 {
		e.log.Warn("fields defaulted after repair",
			zap.Int("batch", batch.Seq),
			zap.Strings("violations", violations))
	}
	return answers, nil
}

// call sends one message request with rate limiting, circuit breaking and
// transient retries, and returns the parsed JSON plus the raw text.
func (e *Extractor) call(ctx context.Context, system []anthropic.SystemBlock, messages []anthropic.Message) (map[string]json.RawMessage, string, error) {
	temp := e.cfg.Temperature
	req := anthropic.MessageRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		System:      system,
		Messages:    messages,
		Temperature: &temp,
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = e.cfg.RetryAttempts
	retryCfg.OnRetry = func(attempt int, err error) {
		e.log.Warn("model call failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}

	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		// Each attempt gets its own deadline so a hung call is retried
		// instead of eating the whole run.
		ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
		defer cancel()
		return resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return e.client.CreateMessage(ctx, req)
		})
	})
	if err != nil {
		return nil, "", err
	}
	resp.Usage.LogCost(e.cfg.Model, "extract")

	text := responseText(resp)
	raw, err := parseJSONObject(text)
	if err != nil {
		return nil, text, err
	}
	return raw, text, nil
}

func parseJSONObject(text string) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleanJSON(text)), &raw); err != nil {
		return nil, eris.Wrap(err, "parse model response")
	}
	return raw, nil
}

func responseText(resp *anthropic.MessageResponse) string {
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// fieldAnswer is the per-field object the prompt asks for. Bare scalar
// values are tolerated and wrapped with a neutral confidence.
type fieldAnswer struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
}

// validate maps the raw response onto the batch's fields. Every declared
// field gets an answer; missing or inadmissible values are defaulted and
// reported as violations.
func validate(raw map[string]json.RawMessage, batch model.Batch) (map[string]Answer, []string) {
	answers := make(map[string]Answer, len(batch.Fields))
	var violations []string

	for _, f := range batch.Fields {
		msg, ok := raw[f.Name]
		if !ok {
			answers[f.Name] = Answer{Value: f.DefaultValue(), Defaulted: true}
			violations = append(violations, fmt.Sprintf("field %q missing", f.Name))
			continue
		}

		var fa fieldAnswer
		if err := json.Unmarshal(msg, &fa); err != nil {
			// Bare scalar instead of the {value, confidence} object.
			var scalar any
			if err := json.Unmarshal(msg, &scalar); err != nil {
				answers[f.Name] = Answer{Value: f.DefaultValue(), Defaulted: true}
				violations = append(violations, fmt.Sprintf("field %q unparseable", f.Name))
				continue
			}
			fa = fieldAnswer{Value: scalar, Confidence: 0.5}
		}

		value := coerceValue(fa.Value, f)
		if !f.AllowsValue(value) {
			answers[f.Name] = Answer{Value: f.DefaultValue(), Defaulted: true}
			violations = append(violations,
				fmt.Sprintf("field %q: value %q not admissible", f.Name, value))
			continue
		}
		answers[f.Name] = Answer{Value: value, Confidence: clamp01(fa.Confidence)}
	}
	return answers, violations
}

// coerceValue renders a JSON value as the field's string form.
func coerceValue(v any, f model.FieldSpec) string {
	switch t := v.(type) {
	case nil:
		return f.DefaultValue()
	case string:
		s := strings.TrimSpace(t)
		if f.IsBoolean() {
			switch strings.ToUpper(s) {
			case "YES", "TRUE", "Y", "X":
				return model.CheckboxYes
			case "NO", "FALSE", "N", "":
				return model.CheckboxNo
			}
		}
		return s
	case bool:
		if !f.IsBoolean() {
			return strconv.FormatBool(t)
		}
		if t {
			return model.CheckboxYes
		}
		return model.CheckboxNo
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
