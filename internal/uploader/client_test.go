package uploader

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/wire"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/pkg/types"
)

type received struct {
	mu       sync.Mutex
	payloads []wire.Payload
	auth     []string
	types    []string
}

func (r *received) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		codec, err := wire.CodecForContentType(req.Header.Get("Content-Type"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
			return
		}
		var p wire.Payload
		if err := codec.Unmarshal(body, &p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		r.mu.Lock()
		r.payloads = append(r.payloads, p)
		r.auth = append(r.auth, req.Header.Get("Authorization"))
		r.types = append(r.types, req.Header.Get("Content-Type"))
		r.mu.Unlock()
		w.WriteHeader(status)
	}
}

func batchOf(n int, final bool) types.Batch {
	b := types.Batch{Seq: 1, Final: final}
	for i := 0; i < n; i++ {
		ts := time.UnixMilli(int64(i + 1))
		b.Poses = append(b.Poses, types.PoseResult{Timestamp: ts, Score: 0.9})
		b.Frames = append(b.Frames, types.EncodedFrame{Encoding: types.EncodingJPEG, Timestamp: ts, Data: []byte{1}})
	}
	return b
}

func newTestClient(t *testing.T, url string, opts Options) (*Client, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	opts.Endpoint = url
	opts.Metrics = m
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, m
}

func TestSendPostsJSONWithToken(t *testing.T) {
	var got received
	srv := httptest.NewServer(got.handler(http.StatusOK))
	defer srv.Close()

	c, m := newTestClient(t, srv.URL, Options{Token: "s3cret"})
	c.Send(batchOf(3, false), "sid-1", "clip-1")
	c.Wait()

	if len(got.payloads) != 1 {
		t.Fatalf("received %d uploads", len(got.payloads))
	}
	p := got.payloads[0]
	if p.SessionID != "sid-1" || p.ClipID != "clip-1" || p.ClipFinished {
		t.Errorf("payload header = %+v", p)
	}
	if len(p.Poses) != 3 || len(p.Frames) != 3 {
		t.Errorf("payload has %d poses, %d frames", len(p.Poses), len(p.Frames))
	}
	if got.auth[0] != "Bearer s3cret" {
		t.Errorf("Authorization = %q", got.auth[0])
	}
	if got.types[0] != wire.ContentTypeJSON {
		t.Errorf("Content-Type = %q", got.types[0])
	}
	if m.UploadsSucceeded.Load() != 1 {
		t.Errorf("UploadsSucceeded = %d", m.UploadsSucceeded.Load())
	}
}

func TestEmptyBatchPolicy(t *testing.T) {
	var got received
	srv := httptest.NewServer(got.handler(http.StatusOK))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, Options{})
	c.Send(batchOf(0, false), "sid", "clip")
	c.Wait()
	if len(got.payloads) != 0 {
		t.Fatalf("empty intermediate batch was sent")
	}

	c.Send(batchOf(0, true), "sid", "clip")
	c.Wait()
	if len(got.payloads) != 1 || !got.payloads[0].ClipFinished {
		t.Fatalf("empty final batch not sent: %+v", got.payloads)
	}
}

func TestFailureIsCountedAndDropped(t *testing.T) {
	var got received
	srv := httptest.NewServer(got.handler(http.StatusInternalServerError))
	defer srv.Close()

	c, m := newTestClient(t, srv.URL, Options{})
	c.Send(batchOf(2, false), "sid", "clip")
	c.Wait()

	if m.UploadsFailed.Load() != 1 || m.UploadsSucceeded.Load() != 0 {
		t.Fatalf("failed=%d succeeded=%d", m.UploadsFailed.Load(), m.UploadsSucceeded.Load())
	}

	_, err := c.Post(context.Background(), wire.FromBatch(batchOf(1, false), "sid", "clip"))
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("Post error = %v", err)
	}
}

func TestUnreachableEndpointDoesNotPanic(t *testing.T) {
	c, m := newTestClient(t, "http://127.0.0.1:1/upload", Options{Timeout: time.Second})
	c.Send(batchOf(1, false), "sid", "clip")
	c.Wait()
	if m.UploadsFailed.Load() != 1 {
		t.Fatalf("UploadsFailed = %d", m.UploadsFailed.Load())
	}
}

func TestBackpressureDropsIntermediateButKeepsFinal(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, m := newTestClient(t, srv.URL, Options{MaxInFlight: 1})
	c.Send(batchOf(1, false), "sid", "clip") // occupies the only slot
	c.Send(batchOf(1, false), "sid", "clip") // dropped
	c.Send(batchOf(1, true), "sid", "clip")  // waits for the slot

	if m.UploadsDropped.Load() != 1 {
		t.Fatalf("UploadsDropped = %d", m.UploadsDropped.Load())
	}
	close(release)
	c.Wait()

	if hits.Load() != 2 {
		t.Fatalf("server saw %d uploads, want 2", hits.Load())
	}
}

func TestProtobufCodec(t *testing.T) {
	var got received
	srv := httptest.NewServer(got.handler(http.StatusOK))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, Options{Codec: wire.Protobuf{}})
	c.Send(batchOf(2, true), "sid", "clip")
	c.Wait()

	if len(got.payloads) != 1 || got.types[0] != wire.ContentTypeProtobuf {
		t.Fatalf("uploads=%d types=%v", len(got.payloads), got.types)
	}
	if len(got.payloads[0].Poses) != 2 || !got.payloads[0].ClipFinished {
		b, _ := json.Marshal(got.payloads[0])
		t.Fatalf("payload = %s", b)
	}
}
