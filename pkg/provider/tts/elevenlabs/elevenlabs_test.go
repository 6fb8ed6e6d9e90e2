package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/types"
)

// session is what the fake server observed on one stream-input connection.
type session struct {
	query    string
	received []map[string]any
}

// fakeStream accepts one stream-input session, records the text messages it
// receives and answers with the given base64 chunks followed by isFinal.
func fakeStream(t *testing.T, chunks [][]byte) (*httptest.Server, <-chan session) {
	t.Helper()
	seen := make(chan session, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := session{query: r.URL.RawQuery}
		if !strings.Contains(r.URL.Path, "/v1/text-to-speech/voice-1/stream-input") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer c.CloseNow()

		ctx := r.Context()
		for i := 0; i < 3; i++ {
			_, data, err := c.Read(ctx)
			if err != nil {
				t.Errorf("read %d: %v", i, err)
				return
			}
			var m map[string]any
			_ = json.Unmarshal(data, &m)
			s.received = append(s.received, m)
		}
		seen <- s
		for _, ch := range chunks {
			msg, _ := json.Marshal(audioResponse{Audio: base64.StdEncoding.EncodeToString(ch)})
			if err := c.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
		final, _ := json.Marshal(audioResponse{IsFinal: true})
		_ = c.Write(ctx, websocket.MessageText, final)
		_, _, _ = c.Read(ctx)
	}))
	return srv, seen
}

func TestSynthesize(t *testing.T) {
	srv, seen := fakeStream(t, [][]byte{[]byte("ID3"), []byte("-frames")})
	defer srv.Close()

	p, err := New("xi-key", WithBaseURLs(srv.URL, srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	audio, err := p.Synthesize(context.Background(), "Mistral here, hello.", types.VoiceProfile{ID: "voice-1"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "ID3-frames" {
		t.Errorf("audio = %q, want %q", audio, "ID3-frames")
	}
	got := <-seen
	query, received := got.query, got.received
	if !strings.Contains(query, "output_format=mp3_44100_128") || !strings.Contains(query, "model_id=eleven_flash_v2_5") {
		t.Errorf("query = %q", query)
	}
	if len(received) != 3 {
		t.Fatalf("received %d messages, want 3", len(received))
	}
	if received[0]["xi_api_key"] != "xi-key" {
		t.Errorf("BOI = %v, want api key", received[0])
	}
	if received[1]["text"] != "Mistral here, hello. " {
		t.Errorf("text message = %v", received[1])
	}
	if received[2]["text"] != "" {
		t.Errorf("end-of-input message = %v", received[2])
	}
}

func TestSynthesize_NoAudio(t *testing.T) {
	srv, _ := fakeStream(t, nil)
	defer srv.Close()

	p, err := New("xi-key", WithBaseURLs(srv.URL, srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Synthesize(context.Background(), "hi", types.VoiceProfile{ID: "voice-1"})
	if !errors.Is(err, tts.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
}

func TestSynthesize_EmptyVoice(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), "hi", types.VoiceProfile{}); err == nil {
		t.Fatal("expected error for empty voice ID")
	}
}

func TestStreamURL(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	u := p.streamURL("voice-abc123")
	if !strings.HasPrefix(u, "wss://api.elevenlabs.io/v1/text-to-speech/voice-abc123/stream-input?") {
		t.Errorf("streamURL = %s", u)
	}
	if !strings.Contains(u, "model_id=eleven_flash_v2_5") {
		t.Errorf("streamURL missing model: %s", u)
	}
}

func TestListVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "key" {
			t.Errorf("xi-api-key = %q", r.Header.Get("xi-api-key"))
		}
		_, _ = w.Write([]byte(`{"voices":[
			{"voice_id":"abc123","name":"Rachel","category":"premade"},
			{"voice_id":"def456","name":"Adam","category":"premade"}
		]}`))
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURLs(srv.URL, srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	profiles, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if profiles[0].ID != "abc123" || profiles[0].Name != "Rachel" || profiles[0].Provider != "elevenlabs" {
		t.Errorf("profiles[0] = %+v", profiles[0])
	}
}

func TestListVoices_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURLs(srv.URL, srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.ListVoices(context.Background()); err == nil {
		t.Fatal("expected error for 401")
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel {
		t.Errorf("expected model %q, got %q", defaultModel, p.model)
	}
	if p.outputFormat != defaultOutputFmt {
		t.Errorf("expected outputFormat %q, got %q", defaultOutputFmt, p.outputFormat)
	}
}

func TestNew_RejectsNonMP3(t *testing.T) {
	if _, err := New("key", WithOutputFormat("pcm_24000")); err == nil {
		t.Error("expected error for pcm output format")
	}
	p, err := New("key", WithModel("eleven_multilingual_v2"), WithOutputFormat("mp3_22050_32"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "eleven_multilingual_v2" || p.outputFormat != "mp3_22050_32" {
		t.Errorf("options not applied: %+v", p)
	}
}
