// Package storage re-hosts generated media and plan artifacts in Supabase
// Storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const (
	// Per attempt; generated clips can be tens of MB
	uploadTimeout = 180 * time.Second

	maxRetries     = 4
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 30 * time.Second
)

type Storage struct {
	url        string
	serviceKey string
	Bucket     string
	client     *http.Client

	retryDelay func(attempt int) time.Duration
}

func New(url, serviceKey, bucket string) *Storage {
	return &Storage{
		url:        strings.TrimRight(url, "/"),
		serviceKey: serviceKey,
		Bucket:     bucket,
		client: &http.Client{
			Timeout: uploadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retryDelay: retryDelay,
	}
}

// uploadError is one failed attempt. retryable says whether another attempt
// can help.
type uploadError struct {
	retryable bool
	err       error
}

func (e *uploadError) Error() string { return e.err.Error() }
func (e *uploadError) Unwrap() error { return e.err }

// Upload stores data at path and returns the object's public URL. Objects are
// written with x-upsert so a repeated upload of the same path is harmless.
func (s *Storage) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	var last *uploadError
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.retryDelay(attempt)
			log.Printf("[Storage] Upload retry %d/%d for %s in %v: %v", attempt, maxRetries, path, delay, last)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("upload of %s cancelled: %w", path, ctx.Err())
			case <-time.After(delay):
			}
		}

		last = s.put(ctx, path, data, contentType)
		if last == nil {
			if attempt > 0 {
				log.Printf("[Storage] Upload of %s succeeded on attempt %d", path, attempt+1)
			}
			return s.GetPublicURL(path), nil
		}
		if !last.retryable || ctx.Err() != nil {
			return "", fmt.Errorf("upload of %s: %w", path, last)
		}
	}
	return "", fmt.Errorf("upload of %s failed after %d attempts: %w", path, maxRetries+1, last)
}

func (s *Storage) put(ctx context.Context, path string, data []byte, contentType string) *uploadError {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.Bucket, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(data))
	if err != nil {
		return &uploadError{err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	resp, err := s.client.Do(req)
	if err != nil {
		return &uploadError{retryable: isRetryableError(err), err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return nil
	}
	return &uploadError{
		retryable: isRetryableStatus(resp.StatusCode),
		err:       fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200)),
	}
}

// UploadPlan stores a run's render plan JSON and returns its public URL.
func (s *Storage) UploadPlan(ctx context.Context, runID uuid.UUID, data []byte) (string, error) {
	return s.Upload(ctx, PlanPath(runID), data, "application/json")
}

// PlanPath is where a run's plan artifact lives inside the bucket.
func PlanPath(runID uuid.UUID) string {
	return fmt.Sprintf("plans/%s/plan.json", runID)
}

func (s *Storage) GetPublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, s.Bucket, path)
}

// retryDelay is base * 2^(attempt-1) capped at maxRetryDelay, plus 0-25% jitter.
func retryDelay(attempt int) time.Duration {
	delay := float64(baseRetryDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxRetryDelay) {
		delay = float64(maxRetryDelay)
	}
	return time.Duration(delay + delay*0.25*rand.Float64())
}

func isRetryableError(err error) bool {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.As(err, &netErr) && netErr.Timeout():
		return true
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	return false
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusRequestTimeout,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
