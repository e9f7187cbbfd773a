package ledger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredit_SendsIdempotencyKey(t *testing.T) {
	var gotKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Idempotency-Key")
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "api-key")
	err := c.Credit(context.Background(), "u-1", decimal.NewFromInt(5000), "XAF", Key("in-1", "SUCCEEDED"))
	require.NoError(t, err)
	assert.Equal(t, "in-1:SUCCEEDED", gotKey)
	assert.Equal(t, "/internal/balance/credit", gotPath)
}

func TestDebit_InsufficientBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "api-key")
	err := c.Debit(context.Background(), "u-1", decimal.NewFromInt(10000), "XAF", Key("wd-1", "approved"))
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestMutate_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "api-key")
	err := c.Credit(context.Background(), "u-1", decimal.NewFromInt(100), "XAF", Key("in-2", "SUCCEEDED"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls)
}

func TestMutate_GivesUpAfterBoundedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "api-key")
	err := c.Credit(context.Background(), "u-1", decimal.NewFromInt(100), "XAF", Key("in-3", "SUCCEEDED"))
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestKey_Deterministic(t *testing.T) {
	assert.Equal(t, Key("abc", "FAILED"), Key("abc", "FAILED"))
	assert.NotEqual(t, Key("abc", "FAILED"), Key("abc", "SUCCEEDED"))
}
