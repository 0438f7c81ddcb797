package collective

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestCoordinator_ClientsReduceOverHTTP(t *testing.T) {
	const world = 3
	srv := httptest.NewServer(NewCoordinator(world).Handler())
	defer srv.Close()

	eg, ctx := errgroup.WithContext(context.Background())
	results := make([][]float64, world)
	for rank := 0; rank < world; rank++ {
		client := NewClient(Topology{Rank: rank, WorldSize: world}, srv.URL, srv.Client())
		eg.Go(func() error {
			sum, err := client.AllReduce(ctx, OpSum, []float64{float64(client.Topology().Rank + 1)})
			if err != nil {
				return err
			}
			if err := client.Barrier(ctx); err != nil {
				return err
			}
			root, err := client.Broadcast(ctx, 2, []float64{float64(client.Topology().Rank)})
			if err != nil {
				return err
			}
			results[client.Topology().Rank] = append(sum, root...)
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	for rank := 0; rank < world; rank++ {
		assert.Equal(t, []float64{6, 2}, results[rank], "rank %d", rank)
	}
}

func TestCoordinator_Healthz(t *testing.T) {
	srv := httptest.NewServer(NewCoordinator(1).Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCoordinator_BadSequence_Rejected(t *testing.T) {
	srv := httptest.NewServer(NewCoordinator(1).Handler())
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/v1/collective/abc", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
