// Package sentiment reads the Bitcoin Fear and Greed index and posts it to Slack.
package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/krakendca/internal/domain"
	"github.com/vadiminshakov/krakendca/internal/notify"
	"github.com/vadiminshakov/krakendca/pkg/retrier"
)

const (
	DefaultFearGreedURL = "https://api.alternative.me/fng/?limit=2"
	defaultTimeout      = 10 * time.Second
)

type notifier interface {
	Notify(ctx context.Context, webhookURL, text string) error
}

// Index is the current and previous reading with the time left until the next update.
type Index struct {
	Current    domain.SentimentReading `json:"current"`
	Previous   domain.SentimentReading `json:"previous"`
	NextUpdate time.Duration           `json:"next_update"`
}

type fngReading struct {
	Value           string `json:"value"`
	Classification  string `json:"value_classification"`
	TimeUntilUpdate string `json:"time_until_update"`
}

type fngResponse struct {
	Data []fngReading `json:"data"`
}

// statusError is a non-2xx answer from the index API.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("fear and greed index returned status %d: %s", e.code, e.body)
}

// FearGreed fetches the index with retries on network failures and 5xx answers.
type FearGreed struct {
	l          *zap.Logger
	url        string
	httpClient *http.Client
	retrier    *retrier.Retrier
	notifier   notifier
	webhook    string
}

// NewFearGreed creates the lookup. An empty url falls back to DefaultFearGreedURL.
func NewFearGreed(l *zap.Logger, url string, n notifier, webhook string, opts ...retrier.Option) *FearGreed {
	if url == "" {
		url = DefaultFearGreedURL
	}

	f := &FearGreed{
		l:          l,
		url:        url,
		httpClient: &http.Client{Timeout: defaultTimeout},
		notifier:   n,
		webhook:    webhook,
	}

	opts = append([]retrier.Option{
		retrier.WithRetryIf(retryable),
		retrier.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			l.Warn("fear and greed lookup failed, retrying",
				zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		}),
	}, opts...)
	f.retrier = retrier.New(opts...)

	return f
}

// Lookup returns the parsed index and the raw payload, and posts a summary to the webhook.
// A failed notification is logged only.
func (f *FearGreed) Lookup(ctx context.Context) (Index, json.RawMessage, error) {
	raw, err := retrier.DoWithData(f.retrier, ctx, f.fetch)
	if err != nil {
		return Index{}, nil, errors.Wrap(err, "failed to fetch fear and greed index")
	}

	index, err := parse(raw)
	if err != nil {
		return Index{}, nil, err
	}

	if f.notifier != nil {
		if err := f.notifier.Notify(ctx, f.webhook, notify.SentimentMessage(index.Current, index.Previous)); err != nil {
			f.l.Error("failed to send sentiment notification", zap.Error(err))
		}
	}

	return index, raw, nil
}

func (f *FearGreed) fetch(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, retrier.Permanent(errors.Wrap(err, "failed to create request"))
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &statusError{code: resp.StatusCode, body: string(body)}
	}
	if !json.Valid(body) {
		return nil, retrier.Permanent(errors.New("fear and greed index returned invalid JSON"))
	}

	return json.RawMessage(body), nil
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= http.StatusInternalServerError || se.code == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func parse(raw json.RawMessage) (Index, error) {
	var resp fngResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Index{}, errors.Wrap(err, "failed to decode fear and greed index")
	}
	if len(resp.Data) < 2 {
		return Index{}, errors.Errorf("fear and greed index has %d readings, want 2", len(resp.Data))
	}

	current, err := resp.Data[0].reading()
	if err != nil {
		return Index{}, err
	}
	previous, err := resp.Data[1].reading()
	if err != nil {
		return Index{}, err
	}

	index := Index{Current: current, Previous: previous}
	if resp.Data[0].TimeUntilUpdate != "" {
		secs, err := strconv.Atoi(resp.Data[0].TimeUntilUpdate)
		if err != nil {
			return Index{}, errors.Wrapf(err, "invalid time_until_update %q", resp.Data[0].TimeUntilUpdate)
		}
		index.NextUpdate = time.Duration(secs) * time.Second
	}

	return index, nil
}

func (r fngReading) reading() (domain.SentimentReading, error) {
	v, err := strconv.Atoi(r.Value)
	if err != nil {
		return domain.SentimentReading{}, errors.Wrapf(err, "invalid index value %q", r.Value)
	}
	return domain.SentimentReading{Value: v, Classification: r.Classification}, nil
}
