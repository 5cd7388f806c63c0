package detector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"followup-engine/internal/common/errors"
	"followup-engine/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, url string, retries int) *Client {
	return NewClient(Config{BaseURL: url + "/", APIKey: "secret", Timeout: 2 * time.Second, MaxRetries: retries}, logger.NewTestLogger(t))
}

func TestDetect_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/ai/detect-follow-up", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var in Email
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "Invoice", in.Subject)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"needsFollowUp":true,"reason":"Awaiting payment","keyPoints":["net 30"],"suggestedDate":"2024-06-14"}`))
	}))
	defer server.Close()

	d, err := newTestClient(t, server.URL, 0).Detect(context.Background(), Email{Subject: "Invoice", Body: "Please pay"})
	require.NoError(t, err)
	assert.True(t, d.NeedsFollowUp)
	assert.Equal(t, "Awaiting payment", d.Reason)
	assert.Equal(t, []string{"net 30"}, d.KeyPoints)
	require.NotNil(t, d.SuggestedDate)
	assert.Equal(t, time.Date(2024, 6, 14, 9, 0, 0, 0, time.UTC), *d.SuggestedDate)
}

func TestDetect_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"needsFollowUp":false}`))
	}))
	defer server.Close()

	d, err := newTestClient(t, server.URL, 2).Detect(context.Background(), Email{Subject: "hi"})
	require.NoError(t, err)
	assert.False(t, d.NeedsFollowUp)
	assert.Nil(t, d.SuggestedDate)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDetect_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, 3).Detect(context.Background(), Email{Subject: "hi"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDetectorFailed))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDetect_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, 0).Detect(context.Background(), Email{Subject: "hi"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeDetectorFailed))
}

func TestDetect_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestClient(t, server.URL, 1).Detect(ctx, Email{Subject: "hi"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDetectorTimeout))
}

func TestParseSuggestedDate(t *testing.T) {
	ts, ok := parseSuggestedDate("2024-06-14T15:30:00+02:00")
	require.True(t, ok)
	assert.True(t, ts.Equal(time.Date(2024, 6, 14, 13, 30, 0, 0, time.UTC)))

	_, ok = parseSuggestedDate("next week")
	assert.False(t, ok)
	_, ok = parseSuggestedDate("")
	assert.False(t, ok)
}
