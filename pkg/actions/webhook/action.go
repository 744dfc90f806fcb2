// Package webhook provides the outbound HTTP call executor.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nocodile/docflow/pkg/actions"
	"github.com/nocodile/docflow/pkg/models"
	"github.com/nocodile/docflow/pkg/template"
)

const defaultTimeoutSeconds = 30

var (
	ErrWebhookURLMissing = errors.New("webhook url is required")
	ErrServerError       = errors.New("server error during webhook call")
)

// Executor performs the HTTP call of one webhook node, with retry under the
// retry error policy and response-based branch selection when configured.
type Executor struct {
	config  *models.WebhookConfig
	client  *http.Client
	delayFn func(time.Duration)
}

func NewExecutor(config *models.WebhookConfig) (*Executor, error) {
	if config.URL == "" {
		return nil, ErrWebhookURLMissing
	}

	return &Executor{
		config:  config,
		client:  &http.Client{Timeout: defaultTimeoutSeconds * time.Second},
		delayFn: time.Sleep,
	}, nil
}

func (e *Executor) attempts() int {
	if e.config.OnError != models.WebhookErrorRetry || e.config.Retry == nil {
		return 1
	}

	return e.config.Retry.MaxRetries + 1
}

func (e *Executor) delay() time.Duration {
	if e.config.Retry == nil {
		return 0
	}

	return time.Duration(e.config.Retry.RetryDelaySeconds) * time.Second
}

func (e *Executor) Execute(ctx context.Context, input actions.Input, logger *slog.Logger) (actions.Result, error) {
	logger = logger.With("module", "webhook_action", "node_id", input.Node.ID)

	data := template.Context(input.Document, input.SubmitterAttrs)
	attempts := e.attempts()

	var (
		lastErr error
		resp    *http.Response
	)

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			logger.InfoContext(ctx, fmt.Sprintf("Webhook retry attempt %d/%d", attempt, attempts))
			e.delayFn(e.delay())
		}

		req, err := e.buildRequest(ctx, data)
		if err != nil {
			lastErr = err

			continue
		}

		resp, err = e.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("webhook request failed: %w", err)
			resp = nil

			continue
		}

		if resp.StatusCode >= 500 && attempt < attempts {
			if err := resp.Body.Close(); err != nil {
				logger.ErrorContext(ctx, "failed to close response body", "error", err)
			}

			lastErr = fmt.Errorf("server error (status %d), retrying: %w", resp.StatusCode, ErrServerError)
			resp = nil

			continue
		}

		break
	}

	if resp == nil {
		return e.failure(fmt.Errorf("all attempts failed, last error: %w", lastErr))
	}

	return e.processResponse(ctx, resp, logger)
}

func (e *Executor) buildRequest(ctx context.Context, data map[string]any) (*http.Request, error) {
	method := strings.ToUpper(e.config.Method)
	if method == "" {
		method = http.MethodPost
	}

	url := template.Render(e.config.URL, data)
	body := template.Render(e.config.Payload, data)

	req, err := http.NewRequestWithContext(ctx, method, url, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook request: %w", err)
	}

	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	for key, value := range e.config.Headers {
		req.Header.Set(key, template.Render(value, data))
	}

	return req, nil
}

func (e *Executor) processResponse(ctx context.Context, resp *http.Response, logger *slog.Logger) (actions.Result, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return e.failure(fmt.Errorf("failed to read response body: %w", err))
	}

	var body any

	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		body = string(bodyBytes)
	}

	logger.InfoContext(ctx, "Webhook completed", "status_code", resp.StatusCode)

	output := map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
	}

	if resp.StatusCode >= 400 {
		result, _ := e.failure(fmt.Errorf("webhook returned status %d: %w", resp.StatusCode, ErrServerError))
		result.Output = output

		if result.Branch != "" {
			return result, nil
		}

		return result, fmt.Errorf("webhook returned status %d: %w", resp.StatusCode, ErrServerError)
	}

	result := actions.Result{Output: output}
	if e.config.OnSuccess == models.WebhookSuccessBranch {
		result.Branch = models.SocketSuccess
	}

	return result, nil
}

// failure maps an execution error to the error socket when the node branches
// on outcome; otherwise the error propagates for the engine's error policy.
func (e *Executor) failure(err error) (actions.Result, error) {
	if e.config.OnSuccess == models.WebhookSuccessBranch {
		return actions.Result{Branch: models.SocketError}, nil
	}

	return actions.Result{}, err
}
