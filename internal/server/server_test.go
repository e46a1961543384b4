package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adamavenir/huddle/internal/backend"
	"github.com/adamavenir/huddle/internal/backend/remote"
	"github.com/adamavenir/huddle/internal/metrics"
	"github.com/adamavenir/huddle/internal/types"
)

type fixture struct {
	mem     *backend.Memory
	srv     *Server
	http    *httptest.Server
	client  *remote.Client
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{mem: backend.NewMemory(), metrics: metrics.New()}
	opts.Metrics = f.metrics
	if opts.RPS == 0 {
		opts.RPS = 1000
		opts.Burst = 1000
	}
	f.srv = New(f.mem, opts)
	f.http = httptest.NewServer(f.srv)
	t.Cleanup(func() {
		f.srv.Close()
		f.http.Close()
	})
	client, err := remote.NewClient(f.http.URL, remote.Options{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	f.client = client
	return f
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, Options{})
	resp, err := http.Get(f.http.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body["status"] != "ok" {
		t.Fatalf("unexpected body %v (%v)", body, err)
	}
}

func TestCreateAndUpdateRoundTrip(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	id, err := f.client.Create(ctx, types.CollectionMessages, types.Message{ClientID: "tmp-1", Author: "alice", Body: "hi"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	again, err := f.client.Create(ctx, types.CollectionMessages, types.Message{ClientID: "tmp-1", Author: "alice", Body: "hi"})
	if err != nil || again != id {
		t.Fatalf("create must be idempotent by client id: %q vs %q (%v)", again, id, err)
	}

	body := "hi there"
	edited := true
	if err := f.client.Update(ctx, types.CollectionMessages, id, types.Patch{Body: &body, Edited: &edited}); err != nil {
		t.Fatalf("update: %v", err)
	}
	doc, ok := f.mem.Get(types.CollectionMessages, id)
	if !ok || doc.Body != "hi there" || !doc.Edited || doc.ClientID != "tmp-1" {
		t.Fatalf("unexpected stored doc %+v", doc)
	}
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	body := "x"
	err := f.client.Update(ctx, types.CollectionMessages, "msg-missing", types.Patch{Body: &body})
	if !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	var apiErr *remote.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound || apiErr.Code != remote.CodeNotFound {
		t.Fatalf("expected api error 404, got %#v", err)
	}

	_, err = f.client.Create(ctx, types.CollectionMessages, types.Message{Body: strings.Repeat("a", backend.MaxDocumentBytes)})
	if !errors.Is(err, backend.ErrTooLarge) {
		t.Fatalf("expected too large, got %v", err)
	}

	f.mem.FailWrites(backend.ErrUnavailable)
	_, err = f.client.Create(ctx, types.CollectionMessages, types.Message{Body: "y"})
	if !errors.Is(err, backend.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t, Options{})

	resp, err := http.Post(f.http.URL+"/v1/collections/messages/docs", "application/json", strings.NewReader("{nope"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", resp.StatusCode)
	}

	resp, err = http.Get(f.http.URL + "/v1/collections/messages/feed?limit=-3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", resp.StatusCode)
	}
}

func TestWriteRateLimit(t *testing.T) {
	f := newFixture(t, Options{RPS: 0.001, Burst: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := f.client.Create(ctx, types.CollectionMessages, types.Message{Body: "ok"}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	_, err := f.client.Create(ctx, types.CollectionMessages, types.Message{Body: "over"})
	if !remote.IsRateLimited(err) {
		t.Fatalf("expected rate limit, got %v", err)
	}

	req, _ := http.NewRequest(http.MethodPost, f.http.URL+"/v1/collections/messages/docs", strings.NewReader(`{"body":"other"}`))
	req.Header.Set(ClientHeader, "someone-else")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("limits are per client, got %d", resp.StatusCode)
	}

	// Reads are never limited.
	resp, err = http.Get(f.http.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestWipeIncrementUpload(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	f.mem.Put(types.CollectionMessages, types.Message{ID: "m1", Body: "a"})
	f.mem.Put(types.CollectionMessages, types.Message{ID: "m2", Body: "b"})
	n, err := f.client.Wipe(ctx, types.CollectionMessages)
	if err != nil || n != 2 {
		t.Fatalf("wipe: %d %v", n, err)
	}
	if f.mem.Len(types.CollectionMessages) != 0 {
		t.Fatalf("expected empty collection")
	}

	for want := int64(1); want <= 2; want++ {
		got, err := f.client.Increment(ctx, types.CollectionStats, "wipes", "count", 1)
		if err != nil || got != want {
			t.Fatalf("increment: %d %v", got, err)
		}
	}
	if got, err := f.client.ReadCounter(ctx, types.CollectionStats, "wipes", "count"); err != nil || got != 2 {
		t.Fatalf("read counter: %d %v", got, err)
	}
	if got, err := f.client.ReadCounter(ctx, types.CollectionStats, "other", "count"); err != nil || got != 0 {
		t.Fatalf("unset counter: %d %v", got, err)
	}

	url, err := f.client.Upload(ctx, "media/1_cat.bin", []byte{1, 2, 3})
	if err != nil || url != "mem://uploads/media/1_cat.bin" {
		t.Fatalf("upload: %q %v", url, err)
	}
	blob, ok := f.mem.Blob("media/1_cat.bin")
	if !ok || len(blob) != 3 {
		t.Fatalf("blob not stored: %v", blob)
	}
}

type recorder struct {
	batches chan []types.Change
	errs    chan error
}

func newRecorder() *recorder {
	return &recorder{batches: make(chan []types.Change, 64), errs: make(chan error, 8)}
}

func (r *recorder) handler() backend.Handler {
	return backend.Handler{
		OnChanges: func(changes []types.Change) { r.batches <- changes },
		OnError:   func(err error) { r.errs <- err },
	}
}

func (r *recorder) next(t *testing.T) []types.Change {
	t.Helper()
	select {
	case batch := <-r.batches:
		return batch
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for feed notification")
		return nil
	}
}

func TestFeedStreamsSnapshotAndChanges(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.mem.Put(types.CollectionMessages, types.Message{ID: "m1", Body: "first", CreatedAt: time.UnixMilli(1000)})

	rec := newRecorder()
	sub, err := f.client.Subscribe(ctx, types.Query{Collection: types.CollectionMessages, Limit: 10}, rec.handler())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	snapshot := rec.next(t)
	if len(snapshot) != 1 || snapshot[0].Type != types.ChangeAdded || snapshot[0].Data.Body != "first" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}

	body := "edited"
	if err := f.client.Update(ctx, types.CollectionMessages, "m1", types.Patch{Body: &body}); err != nil {
		t.Fatalf("update: %v", err)
	}
	batch := rec.next(t)
	if len(batch) != 1 || batch[0].Type != types.ChangeModified || batch[0].Data.Body != "edited" {
		t.Fatalf("unexpected modification %+v", batch)
	}

	f.mem.Delete(types.CollectionMessages, "m1")
	batch = rec.next(t)
	if len(batch) != 1 || batch[0].Type != types.ChangeRemoved || batch[0].ID != "m1" {
		t.Fatalf("unexpected removal %+v", batch)
	}
}

func TestFeedErrorAndShutdown(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	rec := newRecorder()
	sub, err := f.client.Subscribe(ctx, types.Query{Collection: types.CollectionMessages, Limit: 5}, rec.handler())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	rec.next(t)

	f.mem.EmitError(errors.New("permission denied"))
	select {
	case err := <-rec.errs:
		if !strings.Contains(err.Error(), "permission denied") {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("expected feed error")
	}
}

func TestFeedSubscribeFailureIsHTTPError(t *testing.T) {
	f := newFixture(t, Options{})
	f.mem.FailSubscribe(backend.ErrUnavailable)

	_, err := f.client.Subscribe(context.Background(), types.Query{Collection: types.CollectionMessages}, newRecorder().handler())
	if !errors.Is(err, backend.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, Options{})
	if _, err := f.client.Create(context.Background(), types.CollectionMessages, types.Message{Body: "x"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	resp, err := http.Get(f.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	text := string(data)
	if !strings.Contains(text, `huddle_server_requests_total{code="201",route="/v1/collections/{collection}/docs"} 1`) {
		t.Fatalf("missing request counter in:\n%s", text)
	}
}
