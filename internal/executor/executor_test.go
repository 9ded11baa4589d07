package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/inviti8/hvym-pinner/internal/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testCID = "QmTestCID123"

func newTestExecutor(storageURL string) *Executor {
	return New(storageURL, 1024, 2, 2*time.Second, zap.NewNop())
}

func TestPinSuccess(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	}))
	defer gateway.Close()

	storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v0/add":
			w.Write([]byte(`{"Hash":"` + testCID + `","Size":"11"}`))
		case r.URL.Path == "/api/v0/pin/add":
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer storage.Close()

	e := newTestExecutor(storage.URL)
	outcome := e.Pin(context.Background(), testCID, gateway.URL)
	require.True(t, outcome.Success)
	require.Empty(t, outcome.Error)
	require.NotNil(t, outcome.BytesPinned)
	require.EqualValues(t, 11, *outcome.BytesPinned)
}

func TestPinContentTooLargeByContentLength(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "9999")
		w.Write(make([]byte, 2000))
	}))
	defer gateway.Close()

	e := newTestExecutor("http://unused")
	outcome := e.Pin(context.Background(), testCID, gateway.URL)
	require.False(t, outcome.Success)
	require.Contains(t, outcome.Error, ReasonContentTooLarge)
}

func TestPinContentTooLargeByStreamedBytes(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2000))
	}))
	defer gateway.Close()

	e := newTestExecutor("http://unused")
	outcome := e.Pin(context.Background(), testCID, gateway.URL)
	require.False(t, outcome.Success)
	require.Contains(t, outcome.Error, ReasonContentTooLarge)
}

func TestPinGateway404NotRetried(t *testing.T) {
	attempts := 0
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer gateway.Close()

	e := newTestExecutor("http://unused")
	outcome := e.Pin(context.Background(), testCID, gateway.URL)
	require.False(t, outcome.Success)
	require.Contains(t, outcome.Error, "gateway_http_404")
	require.Equal(t, 1, attempts)
}

func TestPinGateway503RetriedThenSucceeds(t *testing.T) {
	attempts := 0
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("hello world"))
	}))
	defer gateway.Close()

	storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v0/add":
			w.Write([]byte(`{"Hash":"` + testCID + `","Size":"11"}`))
		case r.URL.Path == "/api/v0/pin/add":
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer storage.Close()

	e := newTestExecutor(storage.URL)
	outcome := e.Pin(context.Background(), testCID, gateway.URL)
	require.True(t, outcome.Success)
	require.Equal(t, 2, attempts)
}

func TestPinCIDMismatchFatal(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	}))
	defer gateway.Close()

	storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v0/add" {
			w.Write([]byte(`{"Hash":"QmSomethingElse","Size":"11"}`))
		}
	}))
	defer storage.Close()

	e := newTestExecutor(storage.URL)
	outcome := e.Pin(context.Background(), testCID, gateway.URL)
	require.False(t, outcome.Success)
	require.Contains(t, outcome.Error, ReasonCIDMismatch)
}

func TestVerifyPinnedTrue(t *testing.T) {
	storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Keys":{"` + testCID + `":{"Type":"recursive"}}}`))
	}))
	defer storage.Close()

	e := newTestExecutor(storage.URL)
	ok, err := e.VerifyPinned(context.Background(), testCID)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestUnpinAlreadyUnpinnedIsSuccess(t *testing.T) {
	storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"Message":"not pinned"}`))
	}))
	defer storage.Close()

	e := newTestExecutor(storage.URL)
	ok, err := e.Unpin(context.Background(), testCID)
	require.NoError(t, err)
	require.True(t, ok)
}

var _ types.CID = testCID
