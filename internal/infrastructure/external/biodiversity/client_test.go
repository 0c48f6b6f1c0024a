package biodiversity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/oceanvision/marine-catalog/internal/domain/species"
	"github.com/oceanvision/marine-catalog/pkg/circuitbreaker"
	"github.com/oceanvision/marine-catalog/pkg/retry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestClient(t *testing.T, srv *httptest.Server, mutate ...func(*ClientConfig)) *Client {
	t.Helper()

	cfg := DefaultClientConfig("test", srv.URL)
	cfg.HTTPClient = srv.Client()
	cfg.RateLimiterConfig = RateLimiterConfig{RequestsPerSecond: 1000, BurstSize: 50, WaitTimeout: time.Second}
	cfg.Retrier = retry.New(retry.WithMaxAttempts(3), retry.WithInitialDelay(time.Millisecond), retry.WithMaxDelay(5*time.Millisecond), retry.WithJitter(0))
	for _, m := range mutate {
		m(&cfg)
	}
	return NewClient(cfg)
}

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

const aphiaShark = `[{
	"AphiaID": 105838,
	"scientificname": "Carcharodon carcharias",
	"authority": "(Linnaeus, 1758)",
	"status": "accepted",
	"rank": "Species",
	"valid_name": "Carcharodon carcharias",
	"kingdom": "Animalia",
	"phylum": "Chordata",
	"class": "Elasmobranchii",
	"order": "Lamniformes",
	"family": "Lamnidae",
	"genus": "Carcharodon",
	"isMarine": 1,
	"isBrackish": 0,
	"isFreshwater": 0,
	"isExtinct": null,
	"modified": "2023-01-10T09:12:41.490Z"
}]`

func TestWoRMSSource_Fetch(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "false", r.URL.Query().Get("like"))
		assert.Equal(t, "true", r.URL.Query().Get("marine_only"))

		switch r.URL.Path {
		case "/AphiaRecordsByName/Carcharodon carcharias":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, aphiaShark)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})

	src := NewWoRMSSource(newTestClient(t, srv), []string{"Carcharodon carcharias", " ", "Nessiteras rhombopteryx"})
	got, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)

	rec := got[0]
	assert.Equal(t, "WoRMS", rec.Source)
	assert.Equal(t, "Carcharodon carcharias", rec.ScientificName)
	assert.Equal(t, "Lamnidae", rec.Family)
	assert.Equal(t, "Lamniformes", rec.Order)
	assert.Equal(t, []string{"Marine"}, rec.Habitat)
	require.NotNil(t, rec.DiscoveryYear)
	assert.Equal(t, 1758, *rec.DiscoveryYear)
	assert.Empty(t, rec.ConservationStatus)
	assert.Nil(t, rec.Depth, "WoRMS says nothing about depth")
}

func TestOBISSource_Fetch(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/checklist", r.URL.Path)
		if r.URL.Query().Get("scientificname") != "Rhincodon typus" {
			fmt.Fprint(w, `{"total":0,"results":[]}`)
			return
		}
		fmt.Fprint(w, `{"total":1,"results":[{
			"scientificName":"Rhincodon typus",
			"scientificNameAuthorship":"Smith, 1828",
			"taxonID":105847,
			"taxonRank":"Species",
			"kingdom":"Animalia","phylum":"Chordata","order":"Orectolobiformes","family":"Rhincodontidae",
			"records":5321,
			"is_marine":true,
			"category":"EN",
			"minDepth":0,
			"maxDepth":1928
		}]}`)
	})

	src := NewOBISSource(newTestClient(t, srv), []string{"Rhincodon typus", "Unknownus"})
	got, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)

	rec := got[0]
	assert.Equal(t, "OBIS", rec.Source)
	assert.Equal(t, "Endangered", rec.ConservationStatus)
	assert.Equal(t, &species.Range{Min: 0, Max: 1928}, rec.Depth)
	assert.Equal(t, []string{"Marine"}, rec.Habitat)
	assert.Equal(t, []string{"Backed by 5321 occurrence records in OBIS."}, rec.Facts)
	require.NotNil(t, rec.DiscoveryYear)
	assert.Equal(t, 1828, *rec.DiscoveryYear)
}

func TestFishBaseSource_Fetch(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/species", r.URL.Path)
		if q.Get("Genus") != "Mola" || q.Get("Species") != "mola" {
			fmt.Fprint(w, `{"count":0,"returned":0,"error":null,"data":[]}`)
			return
		}
		fmt.Fprint(w, `{"count":1,"returned":1,"error":null,"data":[{
			"SpecCode":1734,"Genus":"Mola","Species":"mola","Author":"(Linnaeus, 1758)",
			"FBname":"Ocean sunfish",
			"DepthRangeShallow":30,"DepthRangeDeep":"480",
			"Length":333,"Weight":2300000,"LongevityWild":null,
			"Fresh":0,"Brack":0,"Saltwater":-1,
			"Comments":"Found in tropical and temperate seas."
		}]}`)
	})

	src := NewFishBaseSource(newTestClient(t, srv), []string{"Mola mola", "Mola", "Regalecus glesne"})
	got, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)

	rec := got[0]
	assert.Equal(t, "FishBase", rec.Source)
	assert.Equal(t, "Mola mola", rec.ScientificName)
	assert.Equal(t, "Ocean sunfish", rec.CommonName)
	assert.Equal(t, &species.Range{Min: 30, Max: 480}, rec.Depth)
	assert.Equal(t, &species.Range{Min: 0, Max: 333}, rec.Length)
	assert.Equal(t, &species.Range{Min: 0, Max: 2300}, rec.Weight)
	assert.Nil(t, rec.Lifespan)
	assert.Equal(t, []string{"Marine"}, rec.Habitat)
	assert.Equal(t, "Found in tropical and temperate seas.", rec.Description)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"total":0,"results":[]}`)
	})

	var resp ChecklistResponseDTO
	err := newTestClient(t, srv).getJSON(context.Background(), "/v3/checklist", nil, &resp)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_RetriesAfterRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `[]`)
	})

	var out []AphiaRecordDTO
	err := newTestClient(t, srv).getJSON(context.Background(), "/AphiaRecordsByName/x", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_PermanentErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr func(*testing.T, error)
	}{
		{
			name:   "bad request",
			status: http.StatusBadRequest,
			body:   "bad taxon",
			wantErr: func(t *testing.T, err error) {
				var se *StatusError
				require.ErrorAs(t, err, &se)
				assert.Equal(t, http.StatusBadRequest, se.StatusCode)
				assert.Equal(t, "bad taxon", se.Body)
			},
		},
		{
			name:   "not found",
			status: http.StatusNotFound,
			wantErr: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrNoMatch)
			},
		},
		{
			name:   "malformed payload",
			status: http.StatusOK,
			body:   `{"total":`,
			wantErr: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "decode response")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			var resp ChecklistResponseDTO
			err := newTestClient(t, srv).getJSON(context.Background(), "/v3/checklist", nil, &resp)
			require.Error(t, err)
			tt.wantErr(t, err)
			assert.Equal(t, int32(1), calls.Load(), "permanent errors are not retried")
		})
	}
}

func TestClient_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	var transitions []string
	c := newTestClient(t, srv, func(cfg *ClientConfig) {
		cfg.FailureThreshold = 2
		cfg.BreakerTimeout = time.Hour
		cfg.Retrier = retry.New(retry.WithMaxAttempts(1))
		cfg.OnStateChange = func(source string, from, to circuitbreaker.State) {
			transitions = append(transitions, source+":"+to.String())
		}
	})

	ctx := context.Background()
	var resp ChecklistResponseDTO
	for i := 0; i < 2; i++ {
		require.Error(t, c.getJSON(ctx, "/v3/checklist", nil, &resp))
	}

	err := c.getJSON(ctx, "/v3/checklist", nil, &resp)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []string{"test:open"}, transitions)
	assert.Equal(t, "open", c.Status().BreakerState)

	c.Reset()
	assert.Equal(t, "closed", c.Status().BreakerState)
}

func TestClient_NoMatchDoesNotOpenCircuit(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, srv, func(cfg *ClientConfig) { cfg.FailureThreshold = 1 })

	for i := 0; i < 3; i++ {
		var out []AphiaRecordDTO
		assert.ErrorIs(t, c.getJSON(context.Background(), "/AphiaRecordsByName/x", nil, &out), ErrNoMatch)
	}
	assert.Equal(t, "closed", c.Status().BreakerState)
}

func TestFetchTerms_FailsOnlyWhenEveryTermFails(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("scientificname") == "Good" {
			fmt.Fprint(w, `{"total":1,"results":[{"scientificName":"Good one"}]}`)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})
	client := newTestClient(t, srv, func(cfg *ClientConfig) { cfg.FailureThreshold = 100 })

	got, err := NewOBISSource(client, []string{"Bad", "Good", "Worse"}).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Good one", got[0].ScientificName)

	_, err = NewOBISSource(client, []string{"Bad", "Worse"}).Fetch(context.Background())
	require.Error(t, err)
	var se *StatusError
	assert.True(t, errors.As(err, &se))
	assert.Contains(t, err.Error(), "all 2 terms failed")
}

func TestFetchTerms_PreservesTermOrder(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("scientificname")
		if name == "Alpha" {
			time.Sleep(20 * time.Millisecond)
		}
		fmt.Fprintf(w, `{"total":1,"results":[{"scientificName":%q}]}`, name)
	})
	client := newTestClient(t, srv, func(cfg *ClientConfig) { cfg.Concurrency = 3 })

	got, err := NewOBISSource(client, []string{"Alpha", "Beta", "Gamma", "beta"}).Fetch(context.Background())
	require.NoError(t, err)

	names := make([]string, 0, len(got))
	for _, p := range got {
		names = append(names, p.ScientificName)
	}
	assert.Equal(t, []string{"Alpha", "Beta", "Gamma"}, names)
}

func TestFetchTerms_CanceledContext(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"total":0,"results":[]}`)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewOBISSource(newTestClient(t, srv), []string{"Alpha"}).Fetch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 30 * time.Second},
		{"12", 12 * time.Second},
		{"soon", 30 * time.Second},
		{"Mon, 15 Jan 2024 10:01:00 GMT", time.Minute},
		{"Mon, 15 Jan 2024 09:00:00 GMT", 0},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, parseRetryAfter(tt.value, now))
		})
	}
}
