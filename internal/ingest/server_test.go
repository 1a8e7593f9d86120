package ingest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/recorder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/store"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/uploader"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/wire"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/pkg/types"
)

type testEnv struct {
	handler http.Handler
	rec     *recorder.Recorder
	dir     string
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	dir := t.TempDir()
	rec := recorder.NewRecorder(dir, 64)
	if err := rec.Start(); err != nil {
		t.Fatalf("start recorder: %v", err)
	}
	t.Cleanup(func() {
		_ = rec.Close()
		_ = st.Close()
	})
	return &testEnv{
		handler: NewServer(cfg, st, rec, metrics.NewIngest()).Handler(),
		rec:     rec,
		dir:     dir,
	}
}

func (e *testEnv) do(t *testing.T, method, path, contentType string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) createSession(t *testing.T, header map[string]string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/data/session/init", "application/json",
		[]byte(`{"session":{"name":"squats","description":"set 1"}}`), header)
	if w.Code != http.StatusOK {
		t.Fatalf("session init: %d %s", w.Code, w.Body)
	}
	var out struct{ SID string }
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out.SID == "" {
		t.Fatalf("no sid in %s", w.Body)
	}
	return out.SID
}

func payload(sid, clip string, final bool, ts ...int64) *wire.Payload {
	p := &wire.Payload{SessionID: sid, ClipID: clip, ClipFinished: final, Poses: []wire.Pose{}, Frames: []wire.Frame{}}
	for _, t := range ts {
		p.Poses = append(p.Poses, wire.Pose{Timestamp: t, Score: 0.9, Keypoints: []wire.Keypoint{{Name: "nose", X: 0.5, Y: 0.2, Score: 0.95}}})
		p.Frames = append(p.Frames, wire.Frame{Timestamp: t, Encoding: "jpeg", Width: 2, Height: 2, Channels: 3, Data: []byte{0xff, 0xd8, 0xff, 0xd9}})
	}
	return p
}

func (e *testEnv) upload(t *testing.T, codec wire.Codec, p *wire.Payload, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := codec.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return e.do(t, http.MethodPost, "/data/poses/upload", codec.ContentType(), body, header)
}

func TestUserInit(t *testing.T) {
	env := newTestEnv(t, Config{})
	w := env.do(t, http.MethodPost, "/data/user/init", "application/json", []byte(`{"first_name":"Ada","last_name":"Lovelace"}`), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var out struct{ UID string }
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out.UID == "" {
		t.Fatalf("no uid in %s", w.Body)
	}

	w = env.do(t, http.MethodPost, "/data/session/init", "application/json",
		[]byte(`{"session":{"name":"n"},"uids":["`+out.UID+`"]}`), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("session with user: %d %s", w.Code, w.Body)
	}
	w = env.do(t, http.MethodPost, "/data/session/init", "application/json",
		[]byte(`{"session":{"name":"n"},"uids":["ghost"]}`), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("session with unknown user: %d", w.Code)
	}
}

func TestOutOfOrderBatchesAndClipFinish(t *testing.T) {
	env := newTestEnv(t, Config{})
	sid := env.createSession(t, nil)

	// the final batch overtakes the earlier ones
	for _, p := range []*wire.Payload{
		payload(sid, "clip-a", true, 31),
		payload(sid, "clip-a", false, 16, 17),
		payload(sid, "clip-a", false, 1, 2),
	} {
		if w := env.upload(t, wire.JSON{}, p, nil); w.Code != http.StatusOK {
			t.Fatalf("upload: %d %s", w.Code, w.Body)
		}
	}

	w := env.do(t, http.MethodGet, "/data/sessions/"+sid+"/clips/clip-a/poses", "", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("poses: %d %s", w.Code, w.Body)
	}
	var out struct{ Poses []store.Pose }
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	want := []int64{1, 2, 16, 17, 31}
	if len(out.Poses) != len(want) {
		t.Fatalf("got %d poses", len(out.Poses))
	}
	for i, p := range out.Poses {
		if p.Timestamp != want[i] {
			t.Errorf("pose %d timestamp %d, want %d", i, p.Timestamp, want[i])
		}
	}

	w = env.do(t, http.MethodGet, "/data/sessions/"+sid, "", nil, nil)
	var sess store.Session
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil {
		t.Fatal(err)
	}
	if len(sess.Clips) != 1 || !sess.Clips[0].Finished || sess.Clips[0].PoseCount != 5 {
		t.Fatalf("clips = %+v", sess.Clips)
	}

	_ = env.rec.Stop()
	if _, err := os.Stat(filepath.Join(env.dir, sid, "clip-a", "31.jpg")); err != nil {
		t.Errorf("frame not written: %v", err)
	}
}

func TestEmptyFinalBatchClosesClip(t *testing.T) {
	env := newTestEnv(t, Config{})
	sid := env.createSession(t, nil)

	w := env.upload(t, wire.JSON{}, payload(sid, "c", true), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", w.Code, w.Body)
	}
	var out struct {
		Stored int
		Clip   store.Clip
	}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out.Stored != 0 || !out.Clip.Finished {
		t.Fatalf("response = %s", w.Body)
	}
}

func TestProtobufUpload(t *testing.T) {
	env := newTestEnv(t, Config{})
	sid := env.createSession(t, nil)

	if w := env.upload(t, wire.Protobuf{}, payload(sid, "c", false, 5, 6), nil); w.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", w.Code, w.Body)
	}
	w := env.do(t, http.MethodGet, "/data/sessions/"+sid+"/clips/c/poses", "", nil, nil)
	var out struct{ Poses []store.Pose }
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if len(out.Poses) != 2 || out.Poses[0].Keypoints[0].Name != "nose" {
		t.Fatalf("poses = %s", w.Body)
	}
}

func TestUploadRejections(t *testing.T) {
	env := newTestEnv(t, Config{MaxBodyBytes: 4096})
	sid := env.createSession(t, nil)

	tests := []struct {
		name        string
		contentType string
		body        []byte
		want        int
	}{
		{"unknown session", "application/json", mustJSON(t, payload("nope", "c", false, 1)), http.StatusNotFound},
		{"bad json", "application/json", []byte(`{"sessionId":`), http.StatusBadRequest},
		{"missing session id", "application/json", []byte(`{"poses":[],"frames":[]}`), http.StatusBadRequest},
		{"unpaired frames", "application/json", []byte(`{"sessionId":"` + sid + `","poses":[],"frames":[{"timestamp":1}]}`), http.StatusBadRequest},
		{"unsupported type", "text/plain", []byte(`hello`), http.StatusUnsupportedMediaType},
		{"too large", "application/json", bytes.Repeat([]byte(" "), 5000), http.StatusRequestEntityTooLarge},
		{"overflowing frame", wire.ContentTypeProtobuf, overflowingFrame(sid), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/data/poses/upload", tt.contentType, tt.body, nil)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.want, w.Body)
			}
		})
	}
}

// overflowingFrame encodes a raw frame whose width*height wraps around to
// its single pixel value.
func overflowingFrame(sid string) []byte {
	var frame []byte
	frame = protowire.AppendTag(frame, 2, protowire.BytesType)
	frame = protowire.AppendString(frame, "raw")
	for num, v := range map[protowire.Number]uint64{3: 3, 4: 0xAAAAAAAAAAAAAAAB, 5: 1} {
		frame = protowire.AppendTag(frame, num, protowire.VarintType)
		frame = protowire.AppendVarint(frame, v)
	}
	frame = protowire.AppendTag(frame, 7, protowire.BytesType)
	frame = protowire.AppendBytes(frame, protowire.AppendVarint(nil, 7))

	var msg []byte
	msg = protowire.AppendTag(msg, 1, protowire.BytesType)
	msg = protowire.AppendString(msg, sid)
	msg = protowire.AppendTag(msg, 6, protowire.BytesType)
	return protowire.AppendBytes(msg, frame)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestBearerToken(t *testing.T) {
	env := newTestEnv(t, Config{Token: "s3cret"})
	good := map[string]string{"Authorization": "Bearer s3cret"}

	w := env.do(t, http.MethodPost, "/data/session/init", "application/json", []byte(`{"session":{}}`), nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("without token: %d", w.Code)
	}
	sid := env.createSession(t, good)

	if w := env.upload(t, wire.JSON{}, payload(sid, "c", false, 1), map[string]string{"Authorization": "Bearer wrong"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", w.Code)
	}
	if w := env.upload(t, wire.JSON{}, payload(sid, "c", false, 1), good); w.Code != http.StatusOK {
		t.Fatalf("good token: %d %s", w.Code, w.Body)
	}
	if w := env.do(t, http.MethodGet, "/health", "", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("health needs no token: %d", w.Code)
	}
}

func TestUploaderEndToEnd(t *testing.T) {
	env := newTestEnv(t, Config{Token: "tok"})
	srv := httptest.NewServer(env.handler)
	defer srv.Close()
	sid := env.createSession(t, map[string]string{"Authorization": "Bearer tok"})

	client, err := uploader.New(uploader.Options{
		Endpoint: srv.URL + "/data/poses/upload",
		Token:    "tok",
		Codec:    wire.Protobuf{},
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	var b types.Batch
	for i := 0; i < 3; i++ {
		ts := time.UnixMilli(int64(100 + i))
		b.Poses = append(b.Poses, types.PoseResult{Timestamp: ts, Score: 0.7, Keypoints: []types.Keypoint{{Name: "nose", Score: 0.9}}})
		b.Frames = append(b.Frames, types.EncodedFrame{Encoding: types.EncodingJPEG, Timestamp: ts, Width: 1, Height: 1, Channels: 3, Data: []byte{1, 2, 3}})
	}
	b.Final = true
	client.Send(b, sid, "run-1")
	client.Wait()

	w := env.do(t, http.MethodGet, "/data/sessions/"+sid+"/clips/run-1/poses", "", nil, map[string]string{"Authorization": "Bearer tok"})
	var out struct{ Poses []store.Pose }
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if len(out.Poses) != 3 || out.Poses[0].FramePath == "" {
		t.Fatalf("poses = %s", w.Body)
	}
}
