package crud_test

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/illmade-knight/go-crudcache/pkg/cache"
	"github.com/illmade-knight/go-crudcache/pkg/crud"
	"github.com/illmade-knight/go-crudcache/pkg/notify"
	"github.com/illmade-knight/go-crudcache/pkg/resource"
	"github.com/illmade-knight/go-crudcache/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakePostSource is an in-memory posts remote. Setting failWith makes every
// mutation fail with that error.
type fakePostSource struct {
	mu       sync.Mutex
	posts    []types.Post
	nextID   int
	failWith error

	listCalls   atomic.Int32
	createCalls atomic.Int32
	updateCalls atomic.Int32
	deleteCalls atomic.Int32
}

func newFakePostSource(posts ...types.Post) *fakePostSource {
	next := 100
	for _, p := range posts {
		if p.ID > next {
			next = p.ID
		}
	}
	return &fakePostSource{posts: posts, nextID: next + 1}
}

func (f *fakePostSource) Collection() string { return types.PostsCollection }

func (f *fakePostSource) List(_ context.Context) ([]types.Post, error) {
	f.listCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Post(nil), f.posts...), nil
}

func (f *fakePostSource) ListWhere(_ context.Context, query url.Values) ([]types.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, _ := strconv.Atoi(query.Get("userId"))
	var out []types.Post
	for _, p := range f.posts {
		if userID == 0 || p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePostSource) Get(_ context.Context, id int) (types.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.posts {
		if p.ID == id {
			return p, nil
		}
	}
	return types.Post{}, &resource.NotFoundError{Collection: types.PostsCollection, ID: id}
}

func (f *fakePostSource) Create(_ context.Context, p types.Post) (types.Post, error) {
	f.createCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return types.Post{}, f.failWith
	}
	p.ID = f.nextID
	f.nextID++
	f.posts = append(f.posts, p)
	return p, nil
}

func (f *fakePostSource) Update(_ context.Context, id int, p types.Post) (types.Post, error) {
	f.updateCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return types.Post{}, f.failWith
	}
	p.ID = id
	for i := range f.posts {
		if f.posts[i].ID == id {
			f.posts[i] = p
			return p, nil
		}
	}
	return types.Post{}, &resource.NotFoundError{Collection: types.PostsCollection, ID: id}
}

func (f *fakePostSource) Delete(_ context.Context, id int) error {
	f.deleteCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	for i := range f.posts {
		if f.posts[i].ID == id {
			f.posts = append(f.posts[:i], f.posts[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakePostSource) Close() error { return nil }

func (f *fakePostSource) setFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
}

func seedPosts() []types.Post {
	return []types.Post{
		{UserID: 1, ID: 1, Title: "first", Body: "a"},
		{UserID: 1, ID: 2, Title: "second", Body: "b"},
		{UserID: 2, ID: 3, Title: "third", Body: "c"},
	}
}

type serviceHarness struct {
	source  *fakePostSource
	cache   *cache.CollectionCache[types.Post]
	recent  *notify.InMemoryNotifier
	service *crud.Service[types.Post]
}

func newServiceHarness(t *testing.T, posts ...types.Post) *serviceHarness {
	t.Helper()
	source := newFakePostSource(posts...)
	c := cache.NewCollectionCache[types.Post](zerolog.Nop())
	recent := notify.NewInMemoryNotifier(10)
	svc, err := crud.NewService[types.Post](source, c, recent, zerolog.Nop())
	require.NoError(t, err)
	return &serviceHarness{source: source, cache: c, recent: recent, service: svc}
}

func postIDs(posts []types.Post) []int {
	out := make([]int, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}
