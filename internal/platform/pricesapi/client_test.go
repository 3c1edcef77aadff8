package pricesapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"cardprices/internal/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, srv *httptest.Server, ceiling int) (*Client, *ratelimit.Queue) {
	t.Helper()
	q := ratelimit.New(ratelimit.Config{Interval: time.Millisecond, Ceiling: ceiling})
	t.Cleanup(q.Close)
	c := NewClient(Config{
		BaseURL:      srv.URL,
		APIKey:       "secret-key",
		RetryBackoff: time.Millisecond,
		PageSize:     2,
	}, q)
	return c, q
}

func TestClient_ListPrices(t *testing.T) {
	t.Run("data envelope", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/prices", r.URL.Path)
			assert.Equal(t, "base1", r.URL.Query().Get("setId"))
			assert.Equal(t, "2", r.URL.Query().Get("page"))
			assert.Equal(t, "200", r.URL.Query().Get("limit"))
			assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
			w.Write([]byte(`{"data":[
				{"id":"base1-4","name":"Charizard","set":{"id":"base1"},
				 "tcgplayer":{"prices":{"holofoil":{"market":412.37,"low":250}}}},
				{"id":"base1-5","name":"Clefairy"}
			]}`))
		}))
		defer srv.Close()
		c, q := newTestClient(t, srv, 10)

		cards, err := c.ListPrices(context.Background(), "base1", 2, 200)
		require.NoError(t, err)
		require.Len(t, cards, 2)
		assert.Equal(t, "base1-4", cards[0].ID)
		assert.Equal(t, "base1", cards[0].ToProduct(time.Now()).SetID)
		assert.Equal(t, "412.37", cards[0].TCGPlayer.Prices["holofoil"].Market.Decimal.String())
		assert.Contains(t, string(cards[0].Raw), `"Charizard"`)
		assert.Nil(t, cards[1].TCGPlayer)
		assert.Equal(t, 1, q.Used())
	})

	t.Run("bare array", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{"id":"a","name":"A"}, 42, {"name":"no id"}]`))
		}))
		defer srv.Close()
		c, _ := newTestClient(t, srv, 10)

		cards, err := c.ListPrices(context.Background(), "s", 1, 10)
		require.NoError(t, err)
		require.Len(t, cards, 3)
		assert.True(t, cards[0].Valid())
		assert.False(t, cards[1].Valid())
		assert.Equal(t, "42", string(cards[1].Raw))
		assert.False(t, cards[2].Valid())
	})
}

func TestClient_GetPrice(t *testing.T) {
	bodies := map[string]string{
		"object": `{"data":{"id":"x","name":"X"}}`,
		"array":  `{"data":[{"id":"x","name":"X"}]}`,
		"bare":   `{"id":"x","name":"X"}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "x", r.URL.Query().Get("id"))
				w.Write([]byte(body))
			}))
			defer srv.Close()
			c, _ := newTestClient(t, srv, 10)

			card, err := c.GetPrice(context.Background(), "x")
			require.NoError(t, err)
			assert.Equal(t, "X", card.Name)
		})
	}

	t.Run("empty", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":[]}`))
		}))
		defer srv.Close()
		c, _ := newTestClient(t, srv, 10)

		_, err := c.GetPrice(context.Background(), "x")
		assert.ErrorIs(t, err, ErrNoRecord)
	})
}

func TestClient_Retries(t *testing.T) {
	t.Run("retries 5xx and 429 then succeeds", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch calls.Add(1) {
			case 1:
				w.WriteHeader(http.StatusServiceUnavailable)
			case 2:
				w.WriteHeader(http.StatusTooManyRequests)
			default:
				w.Write([]byte(`[]`))
			}
		}))
		defer srv.Close()
		c, q := newTestClient(t, srv, 10)

		sets, err := c.ListSets(context.Background(), 1, 10)
		require.NoError(t, err)
		assert.Empty(t, sets)
		assert.Equal(t, int32(3), calls.Load())
		assert.Equal(t, 3, q.Used(), "every attempt is a queued call")
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()
		c, _ := newTestClient(t, srv, 10)

		_, err := c.ListSets(context.Background(), 1, 10)
		var netErr *NetworkError
		require.ErrorAs(t, err, &netErr)
		assert.True(t, netErr.Retryable)
		assert.Equal(t, http.StatusBadGateway, netErr.StatusCode)
		assert.Equal(t, int32(DefaultMaxAttempts), calls.Load())
	})

	t.Run("4xx fails fast", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()
		c, _ := newTestClient(t, srv, 10)

		_, err := c.GetPrice(context.Background(), "x")
		var netErr *NetworkError
		require.ErrorAs(t, err, &netErr)
		assert.False(t, netErr.Retryable)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("quota is never retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`[]`))
		}))
		defer srv.Close()
		c, q := newTestClient(t, srv, 1)

		_, err := c.ListSets(context.Background(), 1, 10)
		assert.ErrorIs(t, err, ratelimit.ErrQuotaExceeded)
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, 1, q.Used())
	})
}

func TestClient_AllPrices(t *testing.T) {
	pages := map[string]string{
		"1": `{"data":[{"id":"a","name":"A"},{"id":"b","name":"B"}]}`,
		"2": `{"data":[{"id":"c","name":"C"}]}`,
		"3": `{"data":[]}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		w.Write([]byte(pages[r.URL.Query().Get("page")]))
	}))
	defer srv.Close()
	c, q := newTestClient(t, srv, 10)

	cards, err := c.AllPrices(context.Background(), "base1")
	require.NoError(t, err)
	require.Len(t, cards, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{cards[0].ID, cards[1].ID, cards[2].ID})
	assert.Equal(t, 3, q.Used())
}

func TestClient_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c, _ := newTestClient(t, srv, 10)
	c.backoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.ListSets(ctx, 1, 10)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestClient_AllPricesRejectsNonListBodies(t *testing.T) {
	bodies := map[string]string{
		"object without data": `{"message":"no results"}`,
		"null":                `null`,
		"data object":         `{"data":{"id":"x","name":"X"}}`,
		"string":              `"nope"`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.Write([]byte(body))
			}))
			defer srv.Close()
			c, q := newTestClient(t, srv, 50)

			cards, err := c.AllPrices(context.Background(), "base1")

			var pe *PageError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, 1, pe.Page)
			assert.ErrorIs(t, err, ErrUnexpectedShape)
			assert.NotErrorIs(t, err, ratelimit.ErrQuotaExceeded)
			assert.Empty(t, cards)
			assert.Equal(t, int32(1), hits.Load())
			assert.Equal(t, 1, q.Used())
		})
	}

	t.Run("keeps earlier pages", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("page") == "1" {
				w.Write([]byte(`{"data":[{"id":"a","name":"A"},{"id":"b","name":"B"}]}`))
				return
			}
			w.Write([]byte(`{"message":"no results"}`))
		}))
		defer srv.Close()
		c, _ := newTestClient(t, srv, 50)

		cards, err := c.AllPrices(context.Background(), "base1")
		var pe *PageError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, 2, pe.Page)
		assert.Len(t, cards, 2)
	})
}
