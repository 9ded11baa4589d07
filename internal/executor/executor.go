// Package executor implements the Storage Executor: fetch content from a
// publisher gateway, ingest it into the local storage node, verify the
// resulting content-address, then pin.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/inviti8/hvym-pinner/internal/types"
	"go.uber.org/zap"
)

// Failure reason codes recorded when a pin attempt does not succeed.
const (
	ReasonContentTooLarge = "content_too_large"
	ReasonGatewayTimeout  = "gateway_timeout"
	ReasonNetworkError    = "network_error"
	ReasonIngestFailure   = "ingest_failure"
	ReasonCIDMismatch     = "cid_mismatch"
	ReasonLocalPinFailure = "local_pin_failure"
)

func reasonGatewayHTTP(code int) string {
	return fmt.Sprintf("gateway_http_%d", code)
}

// PinOutcome is the Storage Executor's result for one pin attempt.
type PinOutcome struct {
	Success     bool
	CID         types.CID
	BytesPinned *uint64
	Error       string
	DurationMs  int64
}

// Executor drives the storage-node HTTP control API and the publisher
// gateway HTTP fetch.
type Executor struct {
	httpClient     *http.Client
	storageRPCURL  string
	maxContentSize atomic.Uint64
	fetchRetries   int
	logger         *zap.Logger
}

// New constructs an Executor. fetchTimeout (pin_timeout) is the timeout of
// the single HTTP client used for every request, so it bounds each gateway
// fetch attempt and each storage-node call alike.
func New(storageRPCURL string, maxContentSize uint64, fetchRetries int, fetchTimeout time.Duration, logger *zap.Logger) *Executor {
	e := &Executor{
		httpClient:    &http.Client{Timeout: fetchTimeout},
		storageRPCURL: storageRPCURL,
		fetchRetries:  fetchRetries,
		logger:        logger,
	}
	e.maxContentSize.Store(maxContentSize)
	return e
}

// MaxContentSize returns the current content-size ceiling.
func (e *Executor) MaxContentSize() uint64 {
	return e.maxContentSize.Load()
}

// SetMaxContentSize updates the content-size ceiling applied to subsequent
// gateway fetches.
func (e *Executor) SetMaxContentSize(max uint64) {
	e.maxContentSize.Store(max)
}

// Pin runs the four-step pipeline: gateway fetch, local ingest, content-
// address verification, then pin.
func (e *Executor) Pin(ctx context.Context, cid types.CID, gateway string) PinOutcome {
	start := time.Now()
	outcome := PinOutcome{CID: cid}

	content, err := e.fetchFromGateway(ctx, gateway, cid)
	if err != nil {
		outcome.Error = err.Error()
		outcome.DurationMs = time.Since(start).Milliseconds()
		return outcome
	}

	addedCID, bytesPinned, err := e.ingest(ctx, content)
	if err != nil {
		outcome.Error = fmt.Sprintf("%s: %v", ReasonIngestFailure, err)
		outcome.DurationMs = time.Since(start).Milliseconds()
		return outcome
	}

	if addedCID != string(cid) {
		outcome.Error = fmt.Sprintf("%s: expected %s, got %s", ReasonCIDMismatch, cid, addedCID)
		outcome.DurationMs = time.Since(start).Milliseconds()
		return outcome
	}

	if err := e.pinLocal(ctx, cid); err != nil {
		outcome.Error = fmt.Sprintf("%s: %v", ReasonLocalPinFailure, err)
		outcome.DurationMs = time.Since(start).Milliseconds()
		return outcome
	}

	outcome.Success = true
	outcome.BytesPinned = &bytesPinned
	outcome.DurationMs = time.Since(start).Milliseconds()
	return outcome
}

// fetchFromGateway streams GET {gateway}/ipfs/{cid}, checking the
// Content-Length header and the actual streamed size against
// maxContentSize, and retrying transport timeouts and 5xx responses
// (never 4xx).
func (e *Executor) fetchFromGateway(ctx context.Context, gateway string, cid types.CID) ([]byte, error) {
	target := fmt.Sprintf("%s/ipfs/%s", gateway, cid)

	var lastErr error
	for attempt := 0; attempt <= e.fetchRetries; attempt++ {
		body, err := e.fetchOnce(ctx, target)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

type gatewayError struct {
	reason string
	status int
	retry  bool
}

func (g *gatewayError) Error() string { return g.reason }

func retryable(err error) bool {
	ge, ok := err.(*gatewayError)
	return ok && ge.retry
}

func (e *Executor) fetchOnce(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &gatewayError{reason: ReasonNetworkError}
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return nil, &gatewayError{reason: ReasonGatewayTimeout, retry: true}
		}
		return nil, &gatewayError{reason: ReasonNetworkError, retry: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &gatewayError{reason: reasonGatewayHTTP(resp.StatusCode), status: resp.StatusCode}
	}
	if resp.StatusCode >= 500 {
		return nil, &gatewayError{reason: reasonGatewayHTTP(resp.StatusCode), status: resp.StatusCode, retry: true}
	}

	maxContentSize := e.maxContentSize.Load()
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseUint(cl, 10, 64); err == nil && n > maxContentSize {
			return nil, &gatewayError{reason: ReasonContentTooLarge}
		}
	}

	limited := io.LimitReader(resp.Body, int64(maxContentSize)+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, &gatewayError{reason: ReasonNetworkError, retry: true}
	}
	if uint64(len(body)) > maxContentSize {
		return nil, &gatewayError{reason: ReasonContentTooLarge}
	}
	return body, nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return false
}

// ingest POSTs raw bytes to the storage node's add endpoint with a fixed
// chunker/hash configuration so the server-assigned address is
// deterministic for the content.
func (e *Executor) ingest(ctx context.Context, content []byte) (cid string, bytesPinned uint64, err error) {
	endpoint := fmt.Sprintf("%s/api/v0/add?chunker=size-262144&hash=sha2-256&pin=false", e.storageRPCURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(content))
	if err != nil {
		return "", 0, err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", 0, fmt.Errorf("add returned %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Hash string `json:"Hash"`
		Size string `json:"Size"`
	}
	if err := decodeJSON(resp.Body, &result); err != nil {
		return "", 0, err
	}
	size, _ := strconv.ParseUint(result.Size, 10, 64)
	return result.Hash, size, nil
}

func (e *Executor) pinLocal(ctx context.Context, cid types.CID) error {
	endpoint := fmt.Sprintf("%s/api/v0/pin/add?arg=%s", e.storageRPCURL, url.QueryEscape(string(cid)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pin/add returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// VerifyPinned reports whether cid currently appears in the local node's
// recursive pin set.
func (e *Executor) VerifyPinned(ctx context.Context, cid types.CID) (bool, error) {
	endpoint := fmt.Sprintf("%s/api/v0/pin/ls?arg=%s&type=recursive", e.storageRPCURL, url.QueryEscape(string(cid)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return false, err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	var result struct {
		Keys map[string]interface{} `json:"Keys"`
	}
	if err := decodeJSON(resp.Body, &result); err != nil {
		return false, err
	}
	_, ok := result.Keys[string(cid)]
	return ok, nil
}

// Unpin removes cid's pin. Idempotent: a response indicating the content
// was already unpinned is treated as success, matching the original
// source's "not pinned" tolerance.
func (e *Executor) Unpin(ctx context.Context, cid types.CID) (bool, error) {
	endpoint := fmt.Sprintf("%s/api/v0/pin/rm?arg=%s", e.storageRPCURL, url.QueryEscape(string(cid)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return false, err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusOK {
		return true, nil
	}
	if bytes.Contains(body, []byte("not pinned")) {
		return true, nil
	}
	return false, fmt.Errorf("pin/rm returned %d: %s", resp.StatusCode, string(body))
}
