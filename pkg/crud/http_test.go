package crud_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/illmade-knight/go-crudcache/pkg/cache"
	"github.com/illmade-knight/go-crudcache/pkg/crud"
	"github.com/illmade-knight/go-crudcache/pkg/notify"
	"github.com/illmade-knight/go-crudcache/pkg/resource"
	"github.com/illmade-knight/go-crudcache/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMux(t *testing.T, posts ...types.Post) (*http.ServeMux, *serviceHarness) {
	t.Helper()
	h := newServiceHarness(t, posts...)
	mux := http.NewServeMux()
	crud.RegisterRoutes(mux, h.service, zerolog.Nop())
	crud.RegisterNotificationRoutes(mux, h.recent)
	return mux, h
}

func serve(mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHTTP_List(t *testing.T) {
	t.Run("List loads through the cache", func(t *testing.T) {
		mux, h := newTestMux(t, seedPosts()...)

		rec := serve(mux, http.MethodGet, "/api/posts", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var posts []types.Post
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &posts))
		assert.Equal(t, []int{1, 2, 3}, postIDs(posts))
		assert.Equal(t, int32(1), h.source.listCalls.Load())
	})

	t.Run("Peek before any load answers 202 without loading", func(t *testing.T) {
		mux, h := newTestMux(t, seedPosts()...)

		rec := serve(mux, http.MethodGet, "/api/posts?peek=1", "")

		require.Equal(t, http.StatusAccepted, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "empty", body["state"])
		assert.Equal(t, false, body["loading"])
		assert.Equal(t, int32(0), h.source.listCalls.Load())
	})

	t.Run("Peek on a Ready collection answers 200 with records", func(t *testing.T) {
		mux, _ := newTestMux(t, seedPosts()...)
		require.Equal(t, http.StatusOK, serve(mux, http.MethodGet, "/api/posts", "").Code)

		rec := serve(mux, http.MethodGet, "/api/posts?peek=1", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var posts []types.Post
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &posts))
		assert.Len(t, posts, 3)
	})

	t.Run("Filter query goes to the source", func(t *testing.T) {
		mux, h := newTestMux(t, seedPosts()...)

		rec := serve(mux, http.MethodGet, "/api/posts?userId=2", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var posts []types.Post
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &posts))
		assert.Equal(t, []int{3}, postIDs(posts))
		assert.Equal(t, int32(0), h.source.listCalls.Load())
	})
}

func TestHTTP_Get(t *testing.T) {
	mux, _ := newTestMux(t, seedPosts()...)

	rec := serve(mux, http.MethodGet, "/api/posts/3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var p types.Post
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "third", p.Title)

	assert.Equal(t, http.StatusNotFound, serve(mux, http.MethodGet, "/api/posts/99", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(mux, http.MethodGet, "/api/posts/abc", "").Code)
}

func TestHTTP_Create(t *testing.T) {
	t.Run("Valid body is created", func(t *testing.T) {
		mux, _ := newTestMux(t, seedPosts()...)

		rec := serve(mux, http.MethodPost, "/api/posts", `{"userId":1,"title":"hello","body":"world"}`)

		require.Equal(t, http.StatusCreated, rec.Code)
		var p types.Post
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
		assert.Equal(t, 101, p.ID)
	})

	t.Run("Bad JSON and invalid records are 400", func(t *testing.T) {
		mux, h := newTestMux(t, seedPosts()...)

		assert.Equal(t, http.StatusBadRequest, serve(mux, http.MethodPost, "/api/posts", `{"title":`).Code)
		assert.Equal(t, http.StatusBadRequest, serve(mux, http.MethodPost, "/api/posts", `{"userId":1}`).Code)
		assert.Equal(t, int32(0), h.source.createCalls.Load())
	})

	t.Run("Remote failure is 502", func(t *testing.T) {
		mux, h := newTestMux(t, seedPosts()...)
		h.source.setFailure(&resource.NetworkError{Op: "POST", URL: "/posts"})

		rec := serve(mux, http.MethodPost, "/api/posts", `{"userId":1,"title":"hello"}`)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, rec.Body.String(), "error")
	})
}

func TestHTTP_Update(t *testing.T) {
	t.Run("Partial body is merged over the cached record", func(t *testing.T) {
		mux, _ := newTestMux(t, seedPosts()...)
		require.Equal(t, http.StatusOK, serve(mux, http.MethodGet, "/api/posts", "").Code)

		rec := serve(mux, http.MethodPut, "/api/posts/2", `{"title":"renamed"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		var p types.Post
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
		assert.Equal(t, "renamed", p.Title)
		assert.Equal(t, "b", p.Body)
		assert.Equal(t, 1, p.UserID)
	})

	t.Run("Mismatched body id is rejected", func(t *testing.T) {
		mux, h := newTestMux(t, seedPosts()...)

		rec := serve(mux, http.MethodPut, "/api/posts/2", `{"id":3,"userId":1,"title":"x"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, int32(0), h.source.updateCalls.Load())
	})
}

func TestHTTP_Delete(t *testing.T) {
	mux, h := newTestMux(t, seedPosts()...)
	require.Equal(t, http.StatusOK, serve(mux, http.MethodGet, "/api/posts", "").Code)

	rec := serve(mux, http.MethodDelete, "/api/posts/1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(mux, http.MethodGet, "/api/posts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var posts []types.Post
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &posts))
	assert.Equal(t, []int{2, 3}, postIDs(posts))
	assert.Equal(t, int32(2), h.source.listCalls.Load())
}

func TestHTTP_Notifications(t *testing.T) {
	mux, _ := newTestMux(t, seedPosts()...)
	require.Equal(t, http.StatusCreated, serve(mux, http.MethodPost, "/api/posts", `{"userId":1,"title":"a"}`).Code)
	require.Equal(t, http.StatusNoContent, serve(mux, http.MethodDelete, "/api/posts/1", "").Code)

	rec := serve(mux, http.MethodGet, "/api/notifications?limit=1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var got []notify.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "Post deleted successfully!", got[0].Message)

	assert.Equal(t, http.StatusBadRequest, serve(mux, http.MethodGet, "/api/notifications?limit=x", "").Code)
}

// widget is a record whose JSON encoding fails while unencodable is set.
type widget struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	unencodable bool
}

func (w widget) GetID() int { return w.ID }

func (w widget) MarshalJSON() ([]byte, error) {
	if w.unencodable {
		return nil, errors.New("widget cannot be encoded")
	}
	type plain widget
	return json.Marshal(plain(w))
}

// widgetSource serves one unencodable widget and echoes updates.
type widgetSource struct{}

func (widgetSource) Collection() string { return "widgets" }
func (widgetSource) List(context.Context) ([]widget, error) {
	return []widget{{ID: 1, Name: "old", unencodable: true}}, nil
}
func (widgetSource) Get(_ context.Context, id int) (widget, error) { return widget{ID: id}, nil }
func (widgetSource) Create(_ context.Context, w widget) (widget, error) { return w, nil }
func (widgetSource) Update(_ context.Context, id int, w widget) (widget, error) {
	w.ID = id
	return w, nil
}
func (widgetSource) Delete(context.Context, int) error { return nil }
func (widgetSource) Close() error                      { return nil }

func TestHTTP_UpdateWhenCachedRecordCannotBeCopied(t *testing.T) {
	// Arrange
	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	c := cache.NewCollectionCache[widget](zerolog.Nop())
	svc, err := crud.NewService[widget](widgetSource{}, c, notify.NewInMemoryNotifier(5), zerolog.Nop())
	require.NoError(t, err)
	_, err = svc.List(context.Background())
	require.NoError(t, err)
	mux := http.NewServeMux()
	crud.RegisterRoutes(mux, svc, logger)

	// Act
	rec := serve(mux, http.MethodPut, "/api/widgets/1", `{"name":"new"}`)

	// Assert
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "new", got["name"])
	assert.Contains(t, logs.String(), `"level":"warn"`)
	assert.Contains(t, logs.String(), "Failed to copy cached record")
	assert.Contains(t, logs.String(), "widget cannot be encoded")
}
