package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xhad/brandvoice/internal/models"
	"github.com/xhad/brandvoice/internal/types"
	"github.com/xhad/brandvoice/pkg/pipeline"
)

type fakeService struct {
	brandVoiceReq pipeline.BrandVoiceRequest
	ingested      []string
	queried       []string
	deleted       []string

	err     error
	answer  string
	chunks  []string
	indexes []string
	ingest  models.IngestResult
}

func (f *fakeService) GenerateBrandVoice(_ context.Context, req pipeline.BrandVoiceRequest, progress types.ProgressFunc) (pipeline.BrandVoiceResult, error) {
	f.brandVoiceReq = req
	if f.err != nil {
		return pipeline.BrandVoiceResult{}, f.err
	}
	if progress != nil {
		progress(1, 1)
	}
	return pipeline.BrandVoiceResult{Answer: f.answer, Ingest: f.ingest}, nil
}

func (f *fakeService) IngestURL(_ context.Context, index, rawURL string, _ types.ProgressFunc) (models.IngestResult, error) {
	f.ingested = append(f.ingested, index+"|"+rawURL)
	if f.err != nil {
		return models.IngestResult{}, f.err
	}
	return f.ingest, nil
}

func (f *fakeService) Query(_ context.Context, index, question string) (models.Answer, error) {
	f.queried = append(f.queried, index+"|"+question)
	if f.err != nil {
		return models.Answer{}, f.err
	}
	return models.Answer{Question: question, Answer: f.answer}, nil
}

func (f *fakeService) QueryStream(_ context.Context, index, question string, onChunk func(string) error) (models.Answer, error) {
	f.queried = append(f.queried, index+"|"+question)
	if f.err != nil {
		return models.Answer{}, f.err
	}
	for _, c := range f.chunks {
		if err := onChunk(c); err != nil {
			return models.Answer{}, err
		}
	}
	return models.Answer{Question: question, Answer: strings.Join(f.chunks, "")}, nil
}

func (f *fakeService) DeleteIndex(_ context.Context, index string) (bool, error) {
	f.deleted = append(f.deleted, index)
	return true, f.err
}

func (f *fakeService) ListIndexes(context.Context) ([]string, error) {
	return f.indexes, f.err
}

func newTestServer(t *testing.T, svc *fakeService) *httptest.Server {
	t.Helper()
	srv := New(svc, Config{AllowedOrigins: []string{"http://localhost:*"}}, zaptest.NewLogger(t))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &fakeService{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeBody(t, resp)["status"])
}

func TestGenerateContentURL(t *testing.T) {
	svc := &fakeService{
		answer: "Warm and direct.",
		ingest: models.IngestResult{Chunks: 5, Stored: 4, Failed: 1, FailedIDs: []string{"3"}},
	}
	ts := newTestServer(t, svc)

	resp, err := http.PostForm(ts.URL+"/generate-content/", url.Values{
		"index_name": {"acme"},
		"url":        {"https://acme.example/guide.pdf"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "Warm and direct.", body["Brand Voice"])
	assert.EqualValues(t, 4, body["chunks_stored"])
	assert.EqualValues(t, 1, body["chunks_failed"])
	assert.Equal(t, "acme", svc.brandVoiceReq.IndexName)
	assert.Equal(t, "https://acme.example/guide.pdf", svc.brandVoiceReq.URL)
	assert.Nil(t, svc.brandVoiceReq.Upload)
}

func TestGenerateContentUpload(t *testing.T) {
	svc := &fakeService{answer: "Playful."}
	ts := newTestServer(t, svc)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("index_name", "acme"))
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="guide.pdf"`)
	h.Set("Content-Type", "application/pdf")
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/generate-content/", mw.FormDataContentType(), &buf)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Playful.", decodeBody(t, resp)["Brand Voice"])
	require.NotNil(t, svc.brandVoiceReq.Upload)
	assert.Equal(t, "guide.pdf", svc.brandVoiceReq.Upload.Filename)
	assert.Equal(t, "application/pdf", svc.brandVoiceReq.Upload.ContentType)
	assert.Equal(t, []byte("%PDF-1.4"), svc.brandVoiceReq.Upload.Data)
}

func TestGenerateContentErrors(t *testing.T) {
	tests := []struct {
		name       string
		form       url.Values
		err        error
		wantStatus int
		wantDetail string
	}{
		{
			name:       "missing index name",
			form:       url.Values{"url": {"https://acme.example"}},
			wantStatus: http.StatusBadRequest,
			wantDetail: "index_name is required",
		},
		{
			name:       "no input",
			form:       url.Values{"index_name": {"acme"}},
			err:        pipeline.ErrNoInput,
			wantStatus: http.StatusBadRequest,
			wantDetail: "No input provided",
		},
		{
			name:       "upstream failure",
			form:       url.Values{"index_name": {"acme"}, "url": {"https://acme.example"}},
			err:        &pipeline.Error{Kind: pipeline.KindUpstream, Message: "Failed to retrieve URL: 503"},
			wantStatus: http.StatusBadRequest,
			wantDetail: "Failed to retrieve URL: 503",
		},
		{
			name:       "internal failure",
			form:       url.Values{"index_name": {"acme"}, "url": {"https://acme.example"}},
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantDetail: "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &fakeService{err: tt.err})

			resp, err := http.PostForm(ts.URL+"/generate-content/", tt.form)
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantDetail, decodeBody(t, resp)["detail"])
		})
	}
}

func TestHandleQuery(t *testing.T) {
	svc := &fakeService{answer: "Confident."}
	ts := newTestServer(t, svc)

	resp := postJSON(t, ts.URL+"/handle-query/", map[string]string{
		"question":   "How does Acme sound?",
		"index_name": "acme",
	})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "How does Acme sound?", body["question"])
	assert.Equal(t, "Confident.", body["answer"])
	assert.Equal(t, []string{"acme|How does Acme sound?"}, svc.queried)
}

func TestHandleQueryErrors(t *testing.T) {
	t.Run("missing question", func(t *testing.T) {
		svc := &fakeService{}
		ts := newTestServer(t, svc)

		resp := postJSON(t, ts.URL+"/handle-query/", map[string]string{"index_name": "acme"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "question is required", decodeBody(t, resp)["detail"])
		assert.Empty(t, svc.queried)
	})

	t.Run("malformed body", func(t *testing.T) {
		ts := newTestServer(t, &fakeService{})

		resp, err := http.Post(ts.URL+"/handle-query/", "application/json", strings.NewReader("{"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid request body", decodeBody(t, resp)["detail"])
	})

	t.Run("unknown index", func(t *testing.T) {
		ts := newTestServer(t, &fakeService{
			err: &pipeline.Error{Kind: pipeline.KindNotFound, Message: "Index ghost not found"},
		})

		resp := postJSON(t, ts.URL+"/handle-query/", map[string]string{"question": "q", "index_name": "ghost"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "Index ghost not found", decodeBody(t, resp)["detail"])
	})
}

func TestEmbedAndStore(t *testing.T) {
	svc := &fakeService{ingest: models.IngestResult{Stored: 4, Failed: 1}}
	ts := newTestServer(t, svc)

	resp := postJSON(t, ts.URL+"/embed-and-store/", map[string]string{
		"url":        "https://acme.example",
		"index_name": "acme",
	})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "Chunks embedded and stored successfully", body["message"])
	assert.EqualValues(t, 4, body["chunks_stored"])
	assert.EqualValues(t, 1, body["chunks_failed"])
	assert.Equal(t, []string{"acme|https://acme.example"}, svc.ingested)

	resp = postJSON(t, ts.URL+"/embed-and-store/", map[string]string{"index_name": "acme"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "url is required", decodeBody(t, resp)["detail"])
}

func TestDeleteIndex(t *testing.T) {
	svc := &fakeService{}
	ts := newTestServer(t, svc)

	resp, err := http.Post(ts.URL+"/delete-index/?index_name=acme", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Index acme deleted successfully", decodeBody(t, resp)["message"])
	assert.Equal(t, []string{"acme"}, svc.deleted)

	resp, err = http.Post(ts.URL+"/delete-index/", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "index_name is required", decodeBody(t, resp)["detail"])
}

func TestListIndexes(t *testing.T) {
	ts := newTestServer(t, &fakeService{})

	resp, err := http.Get(ts.URL + "/indexes/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []interface{}{}, decodeBody(t, resp)["indexes"])

	ts = newTestServer(t, &fakeService{indexes: []string{"acme", "globex"}})
	resp, err = http.Get(ts.URL + "/indexes/")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"acme", "globex"}, decodeBody(t, resp)["indexes"])
}

func TestNotFound(t *testing.T) {
	ts := newTestServer(t, &fakeService{})

	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Not Found", decodeBody(t, resp)["detail"])
}

func dialWS(t *testing.T, ts *httptest.Server, origin string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketQueryStream(t *testing.T) {
	svc := &fakeService{chunks: []string{"Bold ", "and ", "kind."}}
	ts := newTestServer(t, svc)
	conn := dialWS(t, ts, "http://localhost:3000")

	var hello Message
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, MessageSession, hello.Type)
	assert.NotEmpty(t, hello.Content)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageQuery, Content: "Tone?", IndexName: "acme"}))

	var streamed []string
	for {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == MessageStream {
			streamed = append(streamed, msg.Content)
			continue
		}
		assert.Equal(t, MessageResponse, msg.Type)
		assert.Equal(t, "Bold and kind.", msg.Content)
		break
	}
	assert.Equal(t, svc.chunks, streamed)
	assert.Equal(t, []string{"acme|Tone?"}, svc.queried)
}

func TestWebSocketErrors(t *testing.T) {
	svc := &fakeService{err: &pipeline.Error{Kind: pipeline.KindNotFound, Message: "Index ghost not found"}}
	ts := newTestServer(t, svc)
	conn := dialWS(t, ts, "")

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))

	require.NoError(t, conn.WriteJSON(Message{Type: MessageQuery, Content: "Tone?"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageError, msg.Type)
	assert.Equal(t, "index_name is required", msg.Content)

	require.NoError(t, conn.WriteJSON(Message{Type: "shout", Content: "hi", IndexName: "acme"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageError, msg.Type)
	assert.Contains(t, msg.Content, "unsupported message type")

	require.NoError(t, conn.WriteJSON(Message{Type: MessageQuery, Content: "Tone?", IndexName: "ghost"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageError, msg.Type)
	assert.Equal(t, "Index ghost not found", msg.Content)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	ts := newTestServer(t, &fakeService{})

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestOriginAllowed(t *testing.T) {
	patterns := []string{"http://localhost:*", "https://*.acme.example"}

	assert.True(t, originAllowed(patterns, "http://localhost:8501"))
	assert.True(t, originAllowed(patterns, "https://app.acme.example"))
	assert.False(t, originAllowed(patterns, "https://acme.example.evil"))
	assert.False(t, originAllowed(patterns, "http://evil.example"))
	assert.True(t, originAllowed([]string{"*"}, "http://anything"))
}
