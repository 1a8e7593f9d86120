// Package uploader sends batches to the backend without blocking the capture loop.
package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/wire"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/pkg/types"
)

// ErrUploadFailed wraps transport errors and non-2xx responses.
var ErrUploadFailed = errors.New("upload failed")

var log = logger.Module("Uploader")

// Options configures a Client.
type Options struct {
	Endpoint    string
	Token       string // sent as a bearer token when set
	Codec       wire.Codec
	MaxInFlight int
	Timeout     time.Duration // per request, 0 = none
	HTTPClient  *http.Client
	Metrics     *metrics.Metrics
}

// Client posts batches to the upload endpoint. Delivery is at most once:
// failed uploads are logged and dropped.
type Client struct {
	endpoint string
	token    string
	codec    wire.Codec
	timeout  time.Duration
	http     *http.Client
	metrics  *metrics.Metrics

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// New creates an upload client.
func New(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("upload endpoint is required")
	}
	if opts.Codec == nil {
		opts.Codec = wire.JSON{}
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 4
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	return &Client{
		endpoint: opts.Endpoint,
		token:    opts.Token,
		codec:    opts.Codec,
		timeout:  opts.Timeout,
		http:     opts.HTTPClient,
		metrics:  opts.Metrics,
		sem:      semaphore.NewWeighted(int64(opts.MaxInFlight)),
	}, nil
}

// Send uploads b in the background and returns immediately.
//
// Empty intermediate batches are skipped. The final batch is always sent,
// even when empty, and waits for an upload slot instead of being dropped.
func (c *Client) Send(b types.Batch, sessionID, clipID string) {
	if b.Empty() && !b.Final {
		log.Debug("Skipping empty batch #%d", b.Seq)
		return
	}

	payload := wire.FromBatch(b, sessionID, clipID)

	if !b.Final {
		if !c.sem.TryAcquire(1) {
			c.metrics.UploadsDropped.Add(1)
			log.Warn("Too many uploads in flight, dropping batch #%d (%d poses)", b.Seq, b.Len())
			return
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer c.sem.Release(1)
			c.upload(payload)
		}()
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer c.sem.Release(1)
		c.upload(payload)
	}()
}

// Wait blocks until every upload started so far has finished.
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) upload(p *wire.Payload) {
	c.metrics.UploadsInFlight.Add(1)
	defer c.metrics.UploadsInFlight.Add(-1)

	start := time.Now()
	n, err := c.Post(context.Background(), p)
	c.metrics.ObserveUpload(time.Since(start))

	if err != nil {
		c.metrics.UploadsFailed.Add(1)
		log.Warn("Batch #%d (session %s, final=%v) dropped: %v", p.Sequence, p.SessionID, p.ClipFinished, err)
		return
	}

	c.metrics.UploadsSucceeded.Add(1)
	c.metrics.UploadBytes.Add(uint64(n))
	log.Debug("Batch #%d uploaded (%d poses, %d bytes, %v)", p.Sequence, len(p.Poses), n, time.Since(start))
}

// Post performs one synchronous upload and returns the body size sent.
func (c *Client) Post(ctx context.Context, p *wire.Payload) (int, error) {
	body, err := c.codec.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("%w: encode payload: %v", ErrUploadFailed, err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	req.Header.Set("Content-Type", c.codec.ContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("%w: status %d: %s", ErrUploadFailed, resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	return len(body), nil
}
