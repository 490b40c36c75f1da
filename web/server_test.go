package web

import (
	"KnifeDetServer/codec"
	"KnifeDetServer/engine"
	iface "KnifeDetServer/interface"
	"KnifeDetServer/pipeline"
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockBackend reports one knife in the middle of every input.
type MockBackend struct{}

func (m *MockBackend) Infer(t iface.Tensor) (iface.RawOutput, error) {
	return iface.RawOutput{Rows: 1, Cols: 5, Data: []float32{320, 320, 128, 128, 0.91}}, nil
}
func (m *MockBackend) InputSize() int { return 640 }
func (m *MockBackend) CheckConfig() iface.EngineConfig {
	return iface.EngineConfig{Backend: "mock", InputSize: 640}
}
func (m *MockBackend) Destroy() {}

type upload struct {
	name        string
	contentType string
	data        []byte
}

func newTestServer(t *testing.T, detector *engine.Detector) *Server {
	classes, err := pipeline.NewClassTable([]string{"knife"}, []int{0}, 42)
	require.NoError(t, err)
	p := pipeline.New(detector, classes, pipeline.Params{
		ConfThreshold: 0.7, ScoreThreshold: 0.25, NMSThreshold: 0.45, Eta: 0.5, DisplayWidth: 300,
	})
	pool := pipeline.NewPool(p, 2, 100)
	t.Cleanup(pool.Close)
	return NewServer(pool, nil, Options{
		MaxBatch:       4,
		MaxZipBatch:    3,
		MaxUploadBytes: 1 << 20,
		CorsOrigins:    []string{"*"},
		WsIdleTimeout:  time.Second,
		Backend:        "mock",
	})
}

func pngUpload(t *testing.T, name string, w, h int) upload {
	data, err := codec.EncodePNG(iface.NewImageData(w, h))
	require.NoError(t, err)
	return upload{name: name, contentType: "image/png", data: data}
}

func multipartRequest(t *testing.T, path, field string, files ...upload) *http.Request {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, f.name))
		h.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["detail"]
}

func TestStatusRoutes(t *testing.T) {
	s := newTestServer(t, engine.NewDetector(&MockBackend{}))

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var root map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &root))
	assert.Equal(t, "loaded", root["model_status"])
	assert.Equal(t, Version, root["version"])

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, true, health["model_loaded"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	down := newTestServer(t, engine.Load(func() (iface.Backend, error) { return nil, fmt.Errorf("no model") }))
	rec = serve(down, httptest.NewRequest(http.MethodGet, "/api/", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &root))
	assert.Equal(t, "not_loaded", root["model_status"])
}

func TestDetectSingle(t *testing.T) {
	s := newTestServer(t, engine.NewDetector(&MockBackend{}))

	t.Run("Test valid image", func(t *testing.T) {
		rec := serve(s, multipartRequest(t, "/api/detect/single", "file", pngUpload(t, "a.png", 400, 300)))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp DetectionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Original", resp.LeftLabel)
		assert.Equal(t, "Processed Image", resp.CenterLabel)
		assert.False(t, resp.Degraded)
		require.Len(t, resp.Detections, 1)
		assert.Equal(t, "knife", resp.Detections[0].ClassName)

		left, err := codec.DecodeBase64(resp.Left)
		require.NoError(t, err)
		assert.Equal(t, 300, left.Width)
		assert.Equal(t, 225, left.Height)
	})

	t.Run("Test wrong content type", func(t *testing.T) {
		rec := serve(s, multipartRequest(t, "/api/detect/single", "file", upload{"a.txt", "text/plain", []byte("hi")}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid file type. Please upload an image.", detail(t, rec))
	})

	t.Run("Test undecodable image", func(t *testing.T) {
		rec := serve(s, multipartRequest(t, "/api/detect/single", "file", upload{"a.png", "image/png", []byte("broken")}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, detail(t, rec), "Error processing image")
	})

	t.Run("Test too large", func(t *testing.T) {
		big := upload{"big.png", "image/png", make([]byte, 2<<20)}
		rec := serve(s, multipartRequest(t, "/api/detect/single", "file", big))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, detail(t, rec), "File size too large")
	})

	t.Run("Test missing file", func(t *testing.T) {
		rec := serve(s, multipartRequest(t, "/api/detect/single", "other", pngUpload(t, "a.png", 10, 10)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDetectBatch(t *testing.T) {
	s := newTestServer(t, engine.NewDetector(&MockBackend{}))

	t.Run("Test mixed uploads", func(t *testing.T) {
		rec := serve(s, multipartRequest(t, "/api/detect/batch", "files",
			pngUpload(t, "1.png", 400, 300),
			upload{"2.txt", "text/plain", []byte("skip me")},
			upload{"3.png", "image/png", []byte("broken")},
			pngUpload(t, "4.png", 600, 300),
		))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp BatchResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.TotalProcessed)
		assert.Equal(t, 4, resp.TotalFiles)
		require.Len(t, resp.Results, 2)
		first, err := codec.DecodeBase64(resp.Results[0].Left)
		require.NoError(t, err)
		assert.Equal(t, 225, first.Height)
		second, err := codec.DecodeBase64(resp.Results[1].Left)
		require.NoError(t, err)
		assert.Equal(t, 150, second.Height)
	})

	t.Run("Test nothing processable", func(t *testing.T) {
		rec := serve(s, multipartRequest(t, "/api/detect/batch", "files", upload{"a.txt", "text/plain", []byte("x")}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "No valid image files could be processed", detail(t, rec))
	})

	t.Run("Test too many files", func(t *testing.T) {
		f := pngUpload(t, "a.png", 10, 10)
		rec := serve(s, multipartRequest(t, "/api/detect/batch", "files", f, f, f, f, f))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Too many files. Maximum is 4 images.", detail(t, rec))
	})

	t.Run("Test no files", func(t *testing.T) {
		rec := serve(s, multipartRequest(t, "/api/detect/batch", "files"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "No files provided", detail(t, rec))
	})
}

func TestDownloadBatch(t *testing.T) {
	s := newTestServer(t, engine.NewDetector(&MockBackend{}))

	rec := serve(s, multipartRequest(t, "/api/detect/batch/download", "files",
		pngUpload(t, "1.png", 30, 30),
		upload{"2.txt", "text/plain", []byte("skip me")},
		pngUpload(t, "3.png", 40, 20),
	))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=knife_detection_results.zip", rec.Header().Get("Content-Disposition"))

	data := rec.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"original_001.png", "detected_001.png", "original_003.png", "detected_003.png"}, names)

	f := pngUpload(t, "a.png", 10, 10)
	rec = serve(s, multipartRequest(t, "/api/detect/batch/download", "files", f, f, f, f))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, detail(t, rec), "Too many files for ZIP download")
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, engine.NewDetector(&MockBackend{}))
	req := httptest.NewRequest(http.MethodOptions, "/api/detect/single", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := serve(s, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	assert.True(t, originAllowed([]string{"https://a.example"}, "https://a.example"))
	assert.False(t, originAllowed([]string{"https://a.example"}, "https://b.example"))
}

func TestWsDetect(t *testing.T) {
	s := newTestServer(t, engine.NewDetector(&MockBackend{}))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/detect"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	img := pngUpload(t, "a.png", 300, 300).data

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, img))
	var out WsResult
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, 1, out.Seq)
	assert.Empty(t, out.Error)
	require.Len(t, out.Detections, 1)
	assert.Equal(t, 120, out.Detections[0].X1)

	text := "data:image/png;base64," + base64.StdEncoding.EncodeToString(img)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(text)))
	out = WsResult{}
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, 2, out.Seq)
	assert.NotEmpty(t, out.Center)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("broken")))
	out = WsResult{}
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, 3, out.Seq)
	assert.Contains(t, out.Error, "invalid image")
}
