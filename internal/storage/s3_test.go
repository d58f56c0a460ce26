package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCDN(t *testing.T, handler http.Handler) *CDN {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cdn, err := NewCDN(CDNConfig{
		Endpoint:        srv.URL,
		AccessKeyID:     "minio",
		SecretAccessKey: "minio123",
		Bucket:          "media",
		Region:          "us-east-1",
		PublicURL:       "https://cdn.example.com/media/",
	})
	require.NoError(t, err)
	return cdn
}

func TestNewCDNRequiresPublicURL(t *testing.T) {
	_, err := NewCDN(CDNConfig{
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "minio",
		SecretAccessKey: "minio123",
		Bucket:          "media",
		Region:          "us-east-1",
	})
	assert.Error(t, err)

	// A bare slash is as useless as an empty value
	_, err = NewCDN(CDNConfig{Bucket: "media", PublicURL: "/"})
	assert.Error(t, err)
}

func TestPublishUploadsUnderSubdir(t *testing.T) {
	var gotPath, gotContentType string
	var gotBody []byte
	cdn := testCDN(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))

	url, err := cdn.Publish(context.Background(), []byte("jpeg-bytes"), "", "post-abc.jpg")
	require.NoError(t, err)

	assert.Equal(t, "/media/social_media/post-abc.jpg", gotPath)
	assert.Equal(t, "image/jpeg", gotContentType)
	assert.Equal(t, []byte("jpeg-bytes"), gotBody)
	assert.Equal(t, "https://cdn.example.com/media/social_media/post-abc.jpg", url)
}

func TestPublishUnavailable(t *testing.T) {
	cdn := testCDN(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := cdn.Publish(context.Background(), []byte("x"), "", "a.jpg")
	assert.ErrorIs(t, err, ErrCDNUnavailable)
}

func TestDelete(t *testing.T) {
	var gotMethod, gotPath string
	cdn := testCDN(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))

	err := cdn.Delete(context.Background(), "social_media", "post-abc.jpg")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/media/social_media/post-abc.jpg", gotPath)
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "image/jpeg", contentTypeFor("a.jpg"))
	assert.Equal(t, "image/jpeg", contentTypeFor("a.jpeg"))
	assert.Equal(t, "image/png", contentTypeFor("a.png"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("a"))
}
