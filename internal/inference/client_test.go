package inference

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatCall struct {
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

type fakeAPI struct {
	mu            sync.Mutex
	chatCalls     []chatCall
	chatContent   string
	chatStatus    int
	transcript    string
	uploadedName  string
	uploadedBytes []byte
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		file, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b, _ := io.ReadAll(file)
		f.mu.Lock()
		f.uploadedName = hdr.Filename
		f.uploadedBytes = b
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"text": f.transcript})
	})
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var call chatCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.chatCalls = append(f.chatCalls, call)
		f.mu.Unlock()
		if f.chatStatus != 0 {
			w.WriteHeader(f.chatStatus)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "model overloaded", "type": "server_error"}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": f.chatContent}}},
		})
	})
	return mux
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{APIKey: "gsk_test", BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	return c
}

func TestTranscribe(t *testing.T) {
	api := &fakeAPI{transcript: "Acme, Jana\nVsebina sestanka"}
	c := newTestClient(t, api)

	text, err := c.Transcribe(context.Background(), []byte("audio-bytes"), "abc", "audio/webm;codecs=opus")
	require.NoError(t, err)
	assert.Equal(t, "Acme, Jana\nVsebina sestanka", text)
	assert.Equal(t, "abc.webm", api.uploadedName)
	assert.Equal(t, []byte("audio-bytes"), api.uploadedBytes)
}

func TestTranscribeEmptyIsNotError(t *testing.T) {
	c := newTestClient(t, &fakeAPI{})

	text, err := c.Transcribe(context.Background(), []byte("x"), "a.mp4", "")
	require.NoError(t, err)
	assert.Equal(t, "", text)
}

func TestSummarize(t *testing.T) {
	api := &fakeAPI{chatContent: "- točka"}
	c := newTestClient(t, api)

	summary, err := c.Summarize(context.Background(), "prepis")
	require.NoError(t, err)
	assert.Equal(t, "- točka", summary)

	require.Len(t, api.chatCalls, 1)
	call := api.chatCalls[0]
	assert.Equal(t, "llama-3.1-70b-versatile", call.Model)
	assert.InDelta(t, 0.7, call.Temperature, 0.001)
	require.Len(t, call.Messages, 2)
	assert.Equal(t, "system", call.Messages[0].Role)
	assert.True(t, strings.HasSuffix(call.Messages[1].Content, "prepis"))
}

func TestSummarizeEmptyContent(t *testing.T) {
	c := newTestClient(t, &fakeAPI{chatContent: ""})

	_, err := c.Summarize(context.Background(), "prepis")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotGenerated)
}

func TestSummarizeUpstreamFailure(t *testing.T) {
	c := newTestClient(t, &fakeAPI{chatStatus: http.StatusInternalServerError})

	_, err := c.Summarize(context.Background(), "prepis")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.True(t, strings.HasPrefix(err.Error(), "failed to generate summary: "))
	assert.False(t, errors.Is(err, ErrNotGenerated))
}

func TestTitleTruncatesInputAndStripsQuotes(t *testing.T) {
	api := &fakeAPI{chatContent: `  "Sestanek z Acme"  `}
	c := newTestClient(t, api)

	long := strings.Repeat("ž", 1500)
	title, err := c.Title(context.Background(), long)
	require.NoError(t, err)
	assert.Equal(t, "Sestanek z Acme", title)

	require.Len(t, api.chatCalls, 1)
	call := api.chatCalls[0]
	assert.Equal(t, "llama-3.1-8b-instant", call.Model)
	assert.Equal(t, 20, call.MaxTokens)
	user := call.Messages[1].Content
	assert.Equal(t, 1000, strings.Count(user, "ž"))
}

func TestTitleEmptyContent(t *testing.T) {
	c := newTestClient(t, &fakeAPI{chatContent: "   "})

	_, err := c.Title(context.Background(), "prepis")
	assert.ErrorIs(t, err, ErrNotGenerated)
}

func TestStripQuotes(t *testing.T) {
	assert.Equal(t, "Naslov", StripQuotes(`"Naslov"`))
	assert.Equal(t, "Naslov", StripQuotes(`'Naslov'`))
	assert.Equal(t, `"Naslov`, StripQuotes(`""Naslov"`))
	assert.Equal(t, "Naslov", StripQuotes("Naslov"))
}

func TestUploadFilename(t *testing.T) {
	assert.Equal(t, "r.mp4", uploadFilename("r.mp4", "audio/webm"))
	assert.Equal(t, "r.mp4", uploadFilename("r", "audio/mp4"))
	assert.Equal(t, "audio", uploadFilename("", ""))
	assert.Equal(t, "r", uploadFilename("r", "application/octet-stream"))
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.Error(t, err)
}
