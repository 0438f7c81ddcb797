package collective

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

const collectivePath = "/v1/collective/{seq}"

// Coordinator hosts the rendezvous for a multi-process run. Rank 0 serves
// Handler(); every rank, rank 0 included, talks to it through a Client.
type Coordinator struct {
	rv     *rendezvous
	router chi.Router
}

type exchangeResponse struct {
	Values []float64 `json:"values"`
	Error  string    `json:"error,omitempty"`
}

// NewCoordinator creates a Coordinator for worldSize workers.
// Panics if worldSize < 1.
func NewCoordinator(worldSize int) *Coordinator {
	if worldSize < 1 {
		panic(fmt.Sprintf("Coordinator: world size must be >= 1, got %d", worldSize))
	}
	c := &Coordinator{rv: newRendezvous(worldSize)}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post(collectivePath, c.handleExchange)
	c.router = r
	return c
}

// Handler returns the HTTP handler serving the collective endpoints.
func (c *Coordinator) Handler() http.Handler {
	return c.router
}

func (c *Coordinator) handleExchange(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseUint(chi.URLParam(r, "seq"), 10, 64)
	if err != nil {
		writeExchange(w, http.StatusBadRequest, exchangeResponse{Error: "invalid sequence number"})
		return
	}
	var in contribution
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeExchange(w, http.StatusBadRequest, exchangeResponse{Error: fmt.Sprintf("decoding contribution: %v", err)})
		return
	}
	values, err := c.rv.exchange(r.Context(), seq, in)
	if err != nil {
		logrus.Warnf("collective round %d from rank %d failed: %v", seq, in.Rank, err)
		writeExchange(w, http.StatusConflict, exchangeResponse{Error: err.Error()})
		return
	}
	writeExchange(w, http.StatusOK, exchangeResponse{Values: values})
}

func writeExchange(w http.ResponseWriter, status int, resp exchangeResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// Client is the Group implementation for one process of a multi-process
// run. It is not safe for concurrent use.
type Client struct {
	topo    Topology
	baseURL string
	http    *http.Client
	seq     uint64
}

// NewClient creates a Client for the worker at topo talking to the
// coordinator at baseURL (for example "http://10.0.0.1:29500").
// A nil httpClient uses a client without timeout: collectives wait as long
// as the slowest rank takes to reach them.
func NewClient(topo Topology, baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{topo: topo, baseURL: baseURL, http: httpClient}
}

func (c *Client) Topology() Topology {
	return c.topo
}

func (c *Client) AllReduce(ctx context.Context, op ReduceOp, values []float64) ([]float64, error) {
	return c.exchange(ctx, contribution{Op: string(op), Values: values})
}

func (c *Client) Broadcast(ctx context.Context, root int, values []float64) ([]float64, error) {
	return c.exchange(ctx, contribution{Op: opBroadcast, Root: root, Values: values})
}

func (c *Client) Barrier(ctx context.Context) error {
	_, err := c.exchange(ctx, contribution{Op: opBarrier})
	return err
}

func (c *Client) exchange(ctx context.Context, in contribution) ([]float64, error) {
	in.Rank = c.topo.Rank
	seq := c.seq
	c.seq++

	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encoding contribution: %w", err)
	}
	url := fmt.Sprintf("%s/v1/collective/%d", c.baseURL, seq)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building collective request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("collective round %d (%s): %w", seq, in.Op, err)
	}
	defer resp.Body.Close()

	var out exchangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding collective round %d response: %w", seq, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("collective round %d (%s): %s", seq, in.Op, out.Error)
	}
	return out.Values, nil
}
