package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/harmonia-player/harmonia/internal/api"
	"github.com/harmonia-player/harmonia/internal/auth"
	"github.com/harmonia-player/harmonia/internal/constants"
	"github.com/harmonia-player/harmonia/internal/downloads"
	"github.com/harmonia-player/harmonia/internal/events"
	"github.com/harmonia-player/harmonia/internal/logger"
	"github.com/harmonia-player/harmonia/internal/mediacache"
	"github.com/harmonia-player/harmonia/internal/offline"
	"github.com/harmonia-player/harmonia/internal/quota"
	"github.com/harmonia-player/harmonia/internal/router"
	"github.com/harmonia-player/harmonia/internal/store"
	"github.com/harmonia-player/harmonia/internal/syncer"
)

// downTransport stands in for an unreachable backend.
type downTransport struct{}

func (downTransport) Do(context.Context, *api.Request) (*api.Response, error) {
	return nil, errors.New("connection refused")
}

// stubStreams serves fixed audio bytes for any known song.
type stubStreams struct {
	audio map[string][]byte
}

func (s *stubStreams) FetchSongAudio(_ context.Context, songID string) ([]byte, error) {
	data, ok := s.audio[songID]
	if !ok {
		return nil, downloads.ErrNotFound
	}
	return data, nil
}

type handlerEnv struct {
	srv     *httptest.Server
	db      *store.DB
	cache   *mediacache.Cache
	session *auth.Manager
	streams *stubStreams
}

func setupHandler(t *testing.T) *handlerEnv {
	t.Helper()
	dir := t.TempDir()
	db, err := store.NewSQLiteDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cache, err := mediacache.New(filepath.Join(dir, "cache"))
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	session, err := auth.NewManager(store.NewSettingsRepo(db))
	if err != nil {
		t.Fatalf("Failed to create session manager: %v", err)
	}

	log := logger.Default()
	emitter := events.NewEmitter()
	transport := downTransport{}

	emulator := offline.NewService(db, cache, session, emitter, log)
	rtr := router.New(transport, emulator, session, emitter, log)
	rtr.SetOnlineCheck(func() bool { return false })

	streams := &stubStreams{audio: map[string][]byte{}}
	h := &Handler{
		Router:    rtr,
		DB:        db,
		Cache:     cache,
		Session:   session,
		Syncer:    syncer.NewService(db, syncer.NewHTTPRemote(transport), session, emitter, log),
		Downloads: downloads.NewManager(db, cache, streams, emitter, log),
		Quota:     quota.NewMonitor(db, quota.NewCacheEstimator(cache, 1<<30)),
		Streams:   streams,
		Log:       log,
	}

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &handlerEnv{srv: srv, db: db, cache: cache, session: session, streams: streams}
}

// call performs one request and decodes the response envelope.
func (e *handlerEnv) call(t *testing.T, method, path string, body any) (int, *api.Response) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer res.Body.Close()

	var envelope api.Response
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		t.Fatalf("Failed to decode envelope: %v", err)
	}
	return res.StatusCode, &envelope
}

func TestHealthEndpoint(t *testing.T) {
	env := setupHandler(t)

	status, resp := env.call(t, "GET", "/api/health", nil)
	if status != http.StatusOK || !resp.Success {
		t.Fatalf("Expected 200 success, got %d %+v", status, resp)
	}
	var data map[string]any
	if err := resp.DecodeData(&data); err != nil {
		t.Fatalf("Failed to decode data: %v", err)
	}
	if data["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", data["status"])
	}
}

func TestProxyServesResourcesLocally(t *testing.T) {
	env := setupHandler(t)

	status, resp := env.call(t, "GET", "/api/libraries", nil)
	if status != http.StatusOK || !resp.Success {
		t.Fatalf("Expected 200 success, got %d %+v", status, resp)
	}
	var libs []map[string]any
	if err := resp.DecodeData(&libs); err != nil {
		t.Fatalf("Failed to decode libraries: %v", err)
	}
	if len(libs) != 1 {
		t.Fatalf("Expected the default library, got %+v", libs)
	}
}

func TestMe_GuestByDefault(t *testing.T) {
	env := setupHandler(t)

	status, resp := env.call(t, "GET", "/api/auth/me", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	var data map[string]any
	if err := resp.DecodeData(&data); err != nil {
		t.Fatalf("Failed to decode data: %v", err)
	}
	if data["guest"] != true {
		t.Errorf("Expected guest session, got %+v", data)
	}
}

func TestUploadThenStream(t *testing.T) {
	env := setupHandler(t)

	_, resp := env.call(t, "POST", "/api/libraries", map[string]string{"name": "Road Mix"})
	if !resp.Success {
		t.Fatalf("Failed to create library: %+v", resp)
	}
	var lib map[string]any
	if err := resp.DecodeData(&lib); err != nil {
		t.Fatalf("Failed to decode library: %v", err)
	}
	libID, _ := lib["id"].(string)
	if libID == "" {
		t.Fatalf("Library response has no id: %+v", lib)
	}

	audio := []byte("not really mpeg frames")
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="track.mp3"`)
	hdr.Set("Content-Type", "audio/mpeg")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(audio); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	req, err := http.NewRequest("POST", env.srv.URL+"/api/libraries/"+libID+"/songs", &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(res.Body)
		t.Fatalf("Expected 201, got %d: %s", res.StatusCode, body)
	}
	var uploadEnv api.Response
	if err := json.NewDecoder(res.Body).Decode(&uploadEnv); err != nil {
		t.Fatalf("Failed to decode upload envelope: %v", err)
	}
	var song map[string]any
	if err := uploadEnv.DecodeData(&song); err != nil {
		t.Fatalf("Failed to decode song: %v", err)
	}
	songID, _ := song["id"].(string)
	if songID == "" {
		t.Fatalf("Upload response has no song id: %+v", song)
	}

	// Uncached song streams through the passthrough fetch.
	env.streams.audio[songID] = audio
	streamRes, err := http.Get(env.srv.URL + "/api/songs/" + songID + "/stream")
	if err != nil {
		t.Fatalf("Stream request failed: %v", err)
	}
	defer streamRes.Body.Close()
	if streamRes.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 stream, got %d", streamRes.StatusCode)
	}
	got, err := io.ReadAll(streamRes.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, audio) {
		t.Errorf("Streamed bytes differ from the upload")
	}
	if ct := streamRes.Header.Get("Content-Type"); !strings.HasPrefix(ct, "audio/") {
		t.Errorf("Expected an audio content type, got %q", ct)
	}
}

func TestSongCoverSniffsImageType(t *testing.T) {
	env := setupHandler(t)

	png := append([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, []byte("chunks")...)
	key := fmt.Sprintf(constants.SongCoverURLFormat, "song-1")
	if _, err := env.cache.PutBytes(key, png); err != nil {
		t.Fatal(err)
	}

	res, err := http.Get(env.srv.URL + "/api/songs/song-1/cover")
	if err != nil {
		t.Fatalf("Cover request failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Expected image/png, got %q", ct)
	}

	missing, err := http.Get(env.srv.URL + "/api/songs/song-2/cover")
	if err != nil {
		t.Fatal(err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for an uncached cover, got %d", missing.StatusCode)
	}
}

func TestStreamUnknownSongIs404(t *testing.T) {
	env := setupHandler(t)

	status, resp := env.call(t, "GET", "/api/songs/nope/stream", nil)
	if status != http.StatusNotFound || resp.Success {
		t.Fatalf("Expected 404 failure, got %d %+v", status, resp)
	}
}

func TestStorageReport(t *testing.T) {
	env := setupHandler(t)

	status, resp := env.call(t, "GET", "/api/storage", nil)
	if status != http.StatusOK || !resp.Success {
		t.Fatalf("Expected 200 success, got %d %+v", status, resp)
	}
	var data map[string]any
	if err := resp.DecodeData(&data); err != nil {
		t.Fatalf("Failed to decode report: %v", err)
	}
	if _, ok := data["level"]; !ok {
		t.Errorf("Report is missing the usage level: %+v", data)
	}
}

func TestResetRevertsToGuest(t *testing.T) {
	env := setupHandler(t)

	if err := env.session.SignIn("user-1", "token-1"); err != nil {
		t.Fatal(err)
	}
	status, resp := env.call(t, "POST", "/api/reset", nil)
	if status != http.StatusOK || !resp.Success {
		t.Fatalf("Expected 200 success, got %d %+v", status, resp)
	}
	if !env.session.Current().Guest {
		t.Error("Reset must revert the session to guest")
	}
	count := -1
	if err := env.db.Get(&count, "SELECT COUNT(*) FROM songs"); err != nil {
		t.Fatalf("Failed to count songs: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected empty songs table after reset, got %d rows", count)
	}
}
