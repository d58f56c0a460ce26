package instagram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(
		WithBaseURL(srv.URL),
		WithBackoff(Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2.0}),
	)
}

func TestCreateImageContainer(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v21.0/17841400001/media", r.URL.Path)

		q := r.URL.Query()
		assert.Equal(t, "tok", q.Get("access_token"))
		assert.Equal(t, "https://cdn.example.com/social_media/a.jpg", q.Get("image_url"))
		assert.Equal(t, "Lost and found", q.Get("caption"))

		json.NewEncoder(w).Encode(map[string]string{"id": "ctr-1"})
	}))

	id, err := c.CreateImageContainer(context.Background(), CreateImageContainerInput{
		UserID:      "17841400001",
		AccessToken: "tok",
		ImageURL:    "https://cdn.example.com/social_media/a.jpg",
		Caption:     "Lost and found",
	})
	require.NoError(t, err)
	assert.Equal(t, "ctr-1", id)
}

func TestCreateCarouselItemContainerMarksItem(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("is_carousel_item"))
		assert.Empty(t, q.Get("caption"))

		json.NewEncoder(w).Encode(map[string]string{"id": "child-1"})
	}))

	id, err := c.CreateCarouselItemContainer(context.Background(), CreateCarouselItemContainerInput{
		UserID:      "u",
		AccessToken: "tok",
		ImageURL:    "https://cdn.example.com/social_media/b.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, "child-1", id)
}

func TestCreateCarouselContainerOrdersChildren(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "CAROUSEL", q.Get("media_type"))
		assert.Equal(t, "c1,c2,c3", q.Get("children"))

		json.NewEncoder(w).Encode(map[string]string{"id": "parent-1"})
	}))

	id, err := c.CreateCarouselContainer(context.Background(), CreateCarouselContainerInput{
		UserID:      "u",
		AccessToken: "tok",
		Children:    []string{"c1", "c2", "c3"},
		Caption:     "caption",
	})
	require.NoError(t, err)
	assert.Equal(t, "parent-1", id)
}

func TestPublishContainer(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v21.0/u/media_publish", r.URL.Path)
		assert.Equal(t, "ctr-1", r.URL.Query().Get("creation_id"))

		json.NewEncoder(w).Encode(map[string]string{"id": "media-9"})
	}))

	id, err := c.PublishContainer(context.Background(), PublishContainerInput{
		UserID:      "u",
		AccessToken: "tok",
		ContainerID: "ctr-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "media-9", id)
}

func TestGetContainerStatus(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "status_code,error_message", r.URL.Query().Get("fields"))
		json.NewEncoder(w).Encode(map[string]string{"id": "ctr-1", "status_code": "FINISHED"})
	}))

	out, err := c.GetContainerStatus(context.Background(), GetContainerStatusInput{
		ContainerID: "ctr-1",
		AccessToken: "tok",
	})
	require.NoError(t, err)
	assert.Equal(t, ContainerStatusFinished, out.Status)
}

func TestRefreshLongLivedToken(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refresh_access_token", r.URL.Path)
		assert.Equal(t, "ig_refresh_token", r.URL.Query().Get("grant_type"))

		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh",
			"token_type":   "bearer",
			"expires_in":   5184000,
		})
	}))

	out, err := c.RefreshLongLivedToken(context.Background(), RefreshLongLivedTokenInput{AccessToken: "old"})
	require.NoError(t, err)
	assert.Equal(t, "fresh", out.AccessToken)
	assert.Equal(t, int64(5184000), out.ExpiresIn)
}

func TestCallRetriesTransientErrors(t *testing.T) {
	var calls int
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(ErrorResponse{Error: APIError{Message: "service unavailable", Code: 2}})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "ctr-1"})
	}))

	id, err := c.CreateImageContainer(context.Background(), CreateImageContainerInput{
		UserID: "u", AccessToken: "tok", ImageURL: "https://x/a.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, "ctr-1", id)
	assert.Equal(t, 3, calls)
}

func TestCallDoesNotRetryInvalidInput(t *testing.T) {
	var calls int
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(ErrorResponse{Error: APIError{
			Message: "Invalid parameter", Type: "IGApiException", Code: 100,
		}})
	}))

	_, err := c.CreateImageContainer(context.Background(), CreateImageContainerInput{
		UserID: "u", AccessToken: "tok", ImageURL: "bad",
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, KindInvalidInput, ErrorKind(err))
}

func TestCallHonorsRetryAfter(t *testing.T) {
	var calls int
	var gaps []time.Time
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		gaps = append(gaps, time.Now())
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(ErrorResponse{Error: APIError{Message: "rate limited", Code: 4}})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "ctr-1"})
	}))

	_, err := c.CreateImageContainer(context.Background(), CreateImageContainerInput{
		UserID: "u", AccessToken: "tok", ImageURL: "https://x/a.jpg",
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, gaps[1].Sub(gaps[0]), time.Second)
}

func TestCallGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(ErrorResponse{Error: APIError{Message: "down"}})
	}))
	defer srv.Close()

	c := New(
		WithBaseURL(srv.URL),
		WithBackoff(Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2.0}),
		WithMaxAttempts(3),
	)

	_, err := c.CreateImageContainer(context.Background(), CreateImageContainerInput{
		UserID: "u", AccessToken: "tok", ImageURL: "https://x/a.jpg",
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, KindTransient, ErrorKind(err))
}

func TestCallSetsCorrelationHeader(t *testing.T) {
	var headers []string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = append(headers, r.Header.Get("X-Correlation-ID"))
		if len(headers) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(ErrorResponse{Error: APIError{Message: "oops"}})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "ctr-1"})
	}))

	_, err := c.CreateImageContainer(context.Background(), CreateImageContainerInput{
		UserID: "u", AccessToken: "tok", ImageURL: "https://x/a.jpg",
		CorrelationID: "pub-abc",
	})
	require.NoError(t, err)
	require.Len(t, headers, 2)
	assert.Equal(t, "pub-abc/1", headers[0])
	assert.Equal(t, "pub-abc/2", headers[1])
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		apiErr APIError
		want   Kind
	}{
		{"expired token", 400, APIError{Code: 190, Type: "OAuthException"}, KindAuth},
		{"oauth exception", 400, APIError{Type: "OAuthException"}, KindAuth},
		{"rate limit code", 400, APIError{Code: 4}, KindTransient},
		{"media not ready", 400, APIError{Code: 9007}, KindTransient},
		{"bad param", 400, APIError{Code: 100}, KindInvalidInput},
		{"permission", 400, APIError{Code: 200}, KindInvalidInput},
		{"server error", 500, APIError{}, KindTransient},
		{"too many requests", 429, APIError{}, KindTransient},
		{"plain 4xx", 422, APIError{}, KindInvalidInput},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classify(tc.status, &tc.apiErr))
		})
	}
}

func TestErrorResponseDecoding(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Unsupported request","type":"IGApiException","code":100,"error_subcode":33,"fbtrace_id":"AbCd"}}`))
	}))

	_, err := c.GetMediaInfo(context.Background(), GetMediaInfoInput{MediaID: "m", AccessToken: "tok"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 100, apiErr.Code)
	assert.Equal(t, 33, apiErr.ErrorSubcode)
	assert.Equal(t, "AbCd", apiErr.FBTraceID)
	assert.Equal(t, http.StatusBadRequest, apiErr.HTTPStatus)
	assert.Equal(t, KindInvalidInput, apiErr.Kind)
}
