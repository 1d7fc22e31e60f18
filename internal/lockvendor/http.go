package lockvendor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tool-rental-service/internal/models"
	"tool-rental-service/internal/util"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// HTTPIssuer talks to the lock vendor REST API
type HTTPIssuer struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	backoff    func() retry.Backoff
	logger     *zap.Logger
}

func NewHTTPIssuer(baseURL, apiKey string, timeout time.Duration) *HTTPIssuer {
	return &HTTPIssuer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(2, retry.NewExponential(200*time.Millisecond))
		},
		logger: util.GetLogger(),
	}
}

type createCodeRequest struct {
	Name      string    `json:"name"`
	Reference string    `json:"reference"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
}

type createCodeResponse struct {
	AccessCode string `json:"access_code"`
}

// Issue creates a code valid from the start to the end of the booking
func (h *HTTPIssuer) Issue(ctx context.Context, req IssueRequest) (string, error) {
	ctx, span := util.StartBookingSpan(ctx, "HTTPIssuer.Issue", req.BookingID)
	defer span.End()

	start := time.Now()
	defer func() {
		util.AccessCodeLatency.WithLabelValues("issue").Observe(time.Since(start).Seconds())
	}()

	if req.LockID == "" {
		util.AccessCodeFailuresTotal.WithLabelValues("issue").Inc()
		return "", fmt.Errorf("%w: tool has no lock configured", models.ErrGateway)
	}

	body, err := json.Marshal(createCodeRequest{
		Name:      "Booking " + req.BookingID,
		Reference: req.BookingID,
		StartsAt:  req.Start,
		EndsAt:    req.End,
	})
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/locks/%s/access-codes", h.baseURL, url.PathEscape(req.LockID))
	code, err := retry.DoValue(ctx, h.backoff(), func(ctx context.Context) (string, error) {
		var resp createCodeResponse
		if err := h.do(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
			return "", err
		}
		if resp.AccessCode == "" {
			return "", fmt.Errorf("vendor returned an empty access code")
		}
		return resp.AccessCode, nil
	})
	if err != nil {
		util.AccessCodeFailuresTotal.WithLabelValues("issue").Inc()
		util.SpanError(span, err)
		h.logger.Error("Failed to issue access code",
			zap.String("booking_id", req.BookingID),
			zap.String("lock_id", req.LockID),
			zap.Error(err))
		return "", fmt.Errorf("%w: issue access code: %v", models.ErrGateway, err)
	}

	return code, nil
}

// Revoke deletes a code; an unknown code counts as revoked
func (h *HTTPIssuer) Revoke(ctx context.Context, code string) error {
	ctx, span := util.StartSpan(ctx, "HTTPIssuer.Revoke")
	defer span.End()

	start := time.Now()
	defer func() {
		util.AccessCodeLatency.WithLabelValues("revoke").Observe(time.Since(start).Seconds())
	}()

	endpoint := fmt.Sprintf("%s/access-codes/%s", h.baseURL, url.PathEscape(code))
	err := retry.Do(ctx, h.backoff(), func(ctx context.Context) error {
		err := h.do(ctx, http.MethodDelete, endpoint, nil, nil)
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		util.AccessCodeFailuresTotal.WithLabelValues("revoke").Inc()
		util.SpanError(span, err)
		return fmt.Errorf("%w: revoke access code: %v", models.ErrGateway, err)
	}
	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("vendor responded %d: %s", e.code, e.body)
}

// do sends one request. Transport errors and 5xx responses are retryable.
func (h *HTTPIssuer) do(ctx context.Context, method, endpoint string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+h.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return retry.RetryableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		se := &statusError{code: resp.StatusCode, body: string(msg)}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return retry.RetryableError(se)
		}
		return se
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
