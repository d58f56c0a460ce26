package instagram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// graphStub simulates the container lifecycle of the Graph API
type graphStub struct {
	mu            chan struct{}
	containers    map[string]string // id -> status_code
	nextContainer int
	published     []string
	failPublish   bool
}

func newGraphStub() *graphStub {
	s := &graphStub{
		mu:         make(chan struct{}, 1),
		containers: map[string]string{},
	}
	s.mu <- struct{}{}
	return s
}

func (s *graphStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-s.mu
		defer func() { s.mu <- struct{}{} }()

		switch {
		case strings.HasSuffix(r.URL.Path, "/media_publish"):
			if s.failPublish {
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(ErrorResponse{Error: APIError{Message: "publish failed"}})
				return
			}
			creationID := r.URL.Query().Get("creation_id")
			s.published = append(s.published, creationID)
			json.NewEncoder(w).Encode(map[string]string{"id": "media-" + creationID})

		case strings.HasSuffix(r.URL.Path, "/media"):
			s.nextContainer++
			id := "ctr-" + strconv.Itoa(s.nextContainer)
			s.containers[id] = "FINISHED"
			json.NewEncoder(w).Encode(map[string]string{"id": id})

		default:
			// Container status or media info lookup by id
			id := strings.TrimPrefix(r.URL.Path, "/v21.0/")
			if status, ok := s.containers[id]; ok && strings.Contains(r.URL.Query().Get("fields"), "status_code") && !strings.Contains(r.URL.Query().Get("fields"), "permalink") {
				json.NewEncoder(w).Encode(map[string]string{"id": id, "status_code": status})
				return
			}
			json.NewEncoder(w).Encode(map[string]string{
				"id":        id,
				"permalink": "https://www.instagram.com/p/" + id + "/",
			})
		}
	})
}

func testPublisher(t *testing.T, stub *graphStub) *Publisher {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)
	client := New(
		WithBaseURL(srv.URL),
		WithBackoff(Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2.0}),
	)
	return NewPublisher(client, WithPollInterval(time.Millisecond), WithMaxPolls(3))
}

func TestPublishSingle(t *testing.T) {
	stub := newGraphStub()
	p := testPublisher(t, stub)

	var persisted string
	res, err := p.PublishSingle(context.Background(), SingleInput{
		UserID:      "u",
		AccessToken: "tok",
		ImageURL:    "https://cdn.example.com/social_media/a.jpg",
		Caption:     "hello",
		OnContainer: func(id string) { persisted = id },
	})
	require.NoError(t, err)

	assert.Equal(t, "ctr-1", res.ContainerID)
	assert.Equal(t, "ctr-1", persisted)
	assert.Equal(t, "media-ctr-1", res.MediaID)
	assert.Contains(t, res.Permalink, "instagram.com")
	assert.Equal(t, []string{"ctr-1"}, stub.published)
}

func TestPublishSingleReusesPendingContainer(t *testing.T) {
	stub := newGraphStub()
	stub.containers["ctr-prev"] = "FINISHED"
	p := testPublisher(t, stub)

	res, err := p.PublishSingle(context.Background(), SingleInput{
		UserID:             "u",
		AccessToken:        "tok",
		ImageURL:           "https://cdn.example.com/social_media/a.jpg",
		PendingContainerID: "ctr-prev",
	})
	require.NoError(t, err)

	// No new container was created
	assert.Equal(t, 0, stub.nextContainer)
	assert.Equal(t, "ctr-prev", res.ContainerID)
	assert.Equal(t, []string{"ctr-prev"}, stub.published)
}

func TestPublishCarousel(t *testing.T) {
	stub := newGraphStub()
	p := testPublisher(t, stub)

	children := map[int]string{}
	var parent string
	res, err := p.PublishCarousel(context.Background(), CarouselInput{
		UserID:      "u",
		AccessToken: "tok",
		Items: []CarouselItem{
			{ImageURL: "https://cdn/1.jpg"},
			{ImageURL: "https://cdn/2.jpg"},
			{ImageURL: "https://cdn/3.jpg"},
		},
		Caption:          "digest",
		OnChildContainer: func(i int, id string) { children[i] = id },
		OnContainer:      func(id string) { parent = id },
	})
	require.NoError(t, err)

	// 3 children plus 1 parent
	assert.Equal(t, 4, stub.nextContainer)
	assert.Len(t, children, 3)
	assert.Equal(t, res.ContainerID, parent)
	assert.Len(t, stub.published, 1)
}

func TestPublishCarouselReusesPendingChildren(t *testing.T) {
	stub := newGraphStub()
	stub.containers["child-a"] = "FINISHED"
	p := testPublisher(t, stub)

	created := 0
	_, err := p.PublishCarousel(context.Background(), CarouselInput{
		UserID:      "u",
		AccessToken: "tok",
		Items: []CarouselItem{
			{ImageURL: "https://cdn/1.jpg", PendingContainerID: "child-a"},
			{ImageURL: "https://cdn/2.jpg"},
		},
		OnChildContainer: func(int, string) { created++ },
	})
	require.NoError(t, err)

	// Only the second child and the parent container were created
	assert.Equal(t, 2, stub.nextContainer)
	assert.Equal(t, 1, created)
}

func TestWaitForContainerErrorState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"id":            "ctr-x",
			"status_code":   "ERROR",
			"error_message": "image fetch failed",
		})
	}))
	defer srv.Close()

	p := NewPublisher(New(WithBaseURL(srv.URL)), WithPollInterval(time.Millisecond))
	err := p.waitForContainer(context.Background(), "ctr-x", "tok", "")
	require.Error(t, err)
	assert.Equal(t, KindInvalidInput, ErrorKind(err))
	assert.Contains(t, err.Error(), "image fetch failed")
}

func TestWaitForContainerPollsExhausted(t *testing.T) {
	var polls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		json.NewEncoder(w).Encode(map[string]string{"id": "ctr-x", "status_code": "IN_PROGRESS"})
	}))
	defer srv.Close()

	p := NewPublisher(New(WithBaseURL(srv.URL)), WithPollInterval(time.Millisecond), WithMaxPolls(4))
	err := p.waitForContainer(context.Background(), "ctr-x", "tok", "")
	require.Error(t, err)
	assert.Equal(t, 4, polls)
	assert.Equal(t, KindTransient, ErrorKind(err))
}

func TestPublishSinglePermalinkLookupNonFatal(t *testing.T) {
	var publishDone bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/media_publish"):
			publishDone = true
			json.NewEncoder(w).Encode(map[string]string{"id": "media-1"})
		case strings.HasSuffix(r.URL.Path, "/media"):
			json.NewEncoder(w).Encode(map[string]string{"id": "ctr-1"})
		case strings.Contains(r.URL.Query().Get("fields"), "permalink"):
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(ErrorResponse{Error: APIError{Message: "no permalink", Code: 100}})
		default:
			json.NewEncoder(w).Encode(map[string]string{"id": "ctr-1", "status_code": "FINISHED"})
		}
	}))
	defer srv.Close()

	p := NewPublisher(New(WithBaseURL(srv.URL)), WithPollInterval(time.Millisecond))
	res, err := p.PublishSingle(context.Background(), SingleInput{
		UserID: "u", AccessToken: "tok", ImageURL: "https://cdn/a.jpg",
	})
	require.NoError(t, err)
	assert.True(t, publishDone)
	assert.Equal(t, "media-1", res.MediaID)
	assert.Empty(t, res.Permalink)
}
