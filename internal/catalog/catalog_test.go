package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCSV = `part_number,name,price
A-100,ブレーキパッド,1000
B-200,ワイパー,500
AB-123,エアフィルター,1200
XYZ-9,オイル 4L,3980
bad-row,missing price
NEG-1,negative,-5
`

func testServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		w.Write([]byte(testCSV))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRefreshParsesRows(t *testing.T) {
	srv := testServer(t, nil)
	s := NewStore(Options{URL: srv.URL})

	require.NoError(t, s.Refresh(context.Background()))
	// Header, short row and negative price are dropped.
	assert.Equal(t, 4, s.Len())
}

func TestLookupExactNormalized(t *testing.T) {
	srv := testServer(t, nil)
	s := NewStore(Options{URL: srv.URL})

	for _, q := range []string{"A-100", "a100", " a 100 ", "A100"} {
		e, err := s.Lookup(context.Background(), q)
		require.NoError(t, err, "query %q", q)
		assert.Equal(t, "A-100", e.PartNumber)
		assert.Equal(t, int64(1000), e.Price)
	}
}

func TestLookupNotFound(t *testing.T) {
	srv := testServer(t, nil)
	s := NewStore(Options{URL: srv.URL})

	_, err := s.Lookup(context.Background(), "ZZZZ")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTTLCaching(t *testing.T) {
	var hits int32
	srv := testServer(t, &hits)
	s := NewStore(Options{URL: srv.URL, TTL: time.Hour})

	for i := 0; i < 5; i++ {
		_, err := s.Lookup(context.Background(), "A-100")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "fresh cache must not refetch")
}

func TestStaleServedOnRefreshFailure(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(testCSV))
	}))
	t.Cleanup(srv.Close)

	s := NewStore(Options{URL: srv.URL, TTL: time.Nanosecond})
	require.NoError(t, s.Refresh(context.Background()))

	fail.Store(true)
	time.Sleep(time.Millisecond)

	e, err := s.Lookup(context.Background(), "B-200")
	require.NoError(t, err, "stale snapshot should still serve lookups")
	assert.Equal(t, "B-200", e.PartNumber)
}

func TestRefreshErrorWithoutSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	s := NewStore(Options{URL: srv.URL})
	_, err := s.Lookup(context.Background(), "A-100")
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"a-100", "A100"},
		{" AB 12-3 ", "AB123"},
		{"ＸＹＺ", "ＸＹＺ"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in))
	}
}

func TestSearchExactFirst(t *testing.T) {
	srv := testServer(t, nil)
	s := NewStore(Options{URL: srv.URL})

	got, err := s.Search(context.Background(), "A-100")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.True(t, got[0].Exact)
	assert.Equal(t, "A-100", got[0].Entry.PartNumber)
}

func TestSearchSubstringAndDistance(t *testing.T) {
	srv := testServer(t, nil)
	s := NewStore(Options{URL: srv.URL})

	// "AB12" is a prefix of AB123's key; containment outranks edit hits.
	got, err := s.Search(context.Background(), "AB12")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "AB-123", got[0].Entry.PartNumber)
}

func TestSearchTypo(t *testing.T) {
	srv := testServer(t, nil)
	s := NewStore(Options{URL: srv.URL})

	// One substitution away from XYZ9.
	got, err := s.Search(context.Background(), "XYZ8")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "XYZ-9", got[0].Entry.PartNumber)
}

func TestSearchBounded(t *testing.T) {
	srv := testServer(t, nil)
	s := NewStore(Options{URL: srv.URL})

	got, err := s.Search(context.Background(), "QQQQQQQQ")
	require.NoError(t, err)
	assert.Empty(t, got, "nothing within edit distance should match")

	got, err = s.Search(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchCapsCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("P-1,a,1\nP-2,b,1\nP-3,c,1\nP-4,d,1\nP-5,e,1\nP-6,f,1\nP-7,g,1\n"))
	}))
	t.Cleanup(srv.Close)

	s := NewStore(Options{URL: srv.URL})
	got, err := s.Search(context.Background(), "P")
	require.NoError(t, err)
	assert.Len(t, got, MaxCandidates)
}
