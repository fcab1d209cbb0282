package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/Brownie44l1/lesion-api/internal/classifier"
	"github.com/Brownie44l1/lesion-api/internal/labels"
	"github.com/Brownie44l1/lesion-api/internal/preprocess"
)

type fixedScorer struct {
	scores []float32
	err    error
}

func (f fixedScorer) Scores(input []float32) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

// benignScores favours index 1, which the default mapping decodes as benign.
var benignScores = []float32{-0.7, 2.3}

func newRouter(t *testing.T, scorer classifier.Scorer, opts Options) http.Handler {
	t.Helper()
	transform, err := preprocess.NewTransform(preprocess.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	c, err := classifier.New(scorer, transform, labels.Default(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return Routes(NewHandler(c, nil, opts), CORS{}, nil)
}

func fixturePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 180, G: 140, B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func predictBody(t *testing.T, encoded string) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(PredictionRequest{Image: encoded})
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(body)
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v (%q)", err, rec.Body.String())
	}
	return out
}

func TestHealth(t *testing.T) {
	// A broken model must not affect liveness.
	router := newRouter(t, fixedScorer{err: errors.New("no session")}, Options{})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "healthy" || len(body) != 1 {
		t.Errorf("Unexpected body %v", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Unexpected content type %q", ct)
	}
}

func TestPredict_BenignFixture(t *testing.T) {
	router := newRouter(t, fixedScorer{scores: benignScores}, Options{})
	encoded := base64.StdEncoding.EncodeToString(fixturePNG(t))

	rec := serve(router, httptest.NewRequest(http.MethodPost, "/predict", predictBody(t, encoded)))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["prediction"] != labels.Benign || len(body) != 1 {
		t.Errorf(`Expected {"prediction":"benign"}, got %v`, body)
	}
}

func TestPredict_Repeatable(t *testing.T) {
	router := newRouter(t, fixedScorer{scores: benignScores}, Options{})
	encoded := base64.StdEncoding.EncodeToString(fixturePNG(t))

	var first string
	for i := 0; i < 3; i++ {
		rec := serve(router, httptest.NewRequest(http.MethodPost, "/predict", predictBody(t, encoded)))
		if rec.Code != http.StatusOK {
			t.Fatalf("run %d: expected 200, got %d", i, rec.Code)
		}
		if i == 0 {
			first = rec.Body.String()
			continue
		}
		if rec.Body.String() != first {
			t.Errorf("run %d: body %q differs from %q", i, rec.Body.String(), first)
		}
	}
}

func TestPredict_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		strict   bool
		status   int
		contains string
	}{
		{"missing image", `{}`, false, http.StatusBadRequest, "No image provided"},
		{"other keys only", `{"picture":"abc"}`, false, http.StatusBadRequest, "No image provided"},
		{"missing image strict", `{}`, true, http.StatusBadRequest, "No image provided"},
		{"not base64", `{"image":"not base64!!"}`, false, http.StatusInternalServerError, "illegal base64 data"},
		{"not base64 strict", `{"image":"not base64!!"}`, true, http.StatusBadRequest, "illegal base64 data"},
		{"not an image", `{"image":"aGVsbG8gd29ybGQ="}`, false, http.StatusInternalServerError, "decode image"},
		{"null image", `{"image":null}`, false, http.StatusInternalServerError, "base64 string"},
		{"numeric image", `{"image":42}`, false, http.StatusInternalServerError, "base64 string"},
		{"invalid json", `{"image":`, false, http.StatusInternalServerError, "parse request"},
		{"null body", `null`, false, http.StatusInternalServerError, "JSON object"},
		{"array body", `[]`, false, http.StatusInternalServerError, "parse request"},
		{"string body", `"image"`, false, http.StatusInternalServerError, "parse request"},
		{"empty body", ``, false, http.StatusInternalServerError, "parse request"},
	}

	for _, tt := range tests {
		router := newRouter(t, fixedScorer{scores: benignScores}, Options{StrictErrors: tt.strict})

		rec := serve(router, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(tt.body)))
		if rec.Code != tt.status {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.status, rec.Code)
			continue
		}
		body := decodeBody(t, rec)
		msg, _ := body["error"].(string)
		if !strings.Contains(msg, tt.contains) {
			t.Errorf("%s: expected error containing %q, got %q", tt.name, tt.contains, msg)
		}
	}
}

func TestPredict_MissingImageExactBody(t *testing.T) {
	router := newRouter(t, fixedScorer{scores: benignScores}, Options{})

	rec := serve(router, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{}`)))
	if got := strings.TrimSpace(rec.Body.String()); got != `{"error":"No image provided"}` {
		t.Errorf("Unexpected body %s", got)
	}
}

func TestPredict_InferenceFailure(t *testing.T) {
	router := newRouter(t, fixedScorer{err: errors.New("session crashed")}, Options{StrictErrors: true})
	encoded := base64.StdEncoding.EncodeToString(fixturePNG(t))

	rec := serve(router, httptest.NewRequest(http.MethodPost, "/predict", predictBody(t, encoded)))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rec.Code)
	}
	if msg, _ := decodeBody(t, rec)["error"].(string); !strings.Contains(msg, "session crashed") {
		t.Errorf("Expected inference error text, got %q", msg)
	}
}

func TestPredict_BodyTooLarge(t *testing.T) {
	router := newRouter(t, fixedScorer{scores: benignScores}, Options{MaxBodyBytes: 64})
	body := `{"image":"` + strings.Repeat("A", 200) + `"}`

	rec := serve(router, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", rec.Code)
	}
}

func TestPredict_MethodNotAllowed(t *testing.T) {
	router := newRouter(t, fixedScorer{scores: benignScores}, Options{})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/predict", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func multipartRequest(t *testing.T, field string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, "lesion.png")
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/predict/image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestPredictFromImage(t *testing.T) {
	router := newRouter(t, fixedScorer{scores: benignScores}, Options{})

	rec := serve(router, multipartRequest(t, "image", fixturePNG(t)))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp PredictionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Prediction != labels.Benign {
		t.Errorf("Expected benign, got %s", resp.Prediction)
	}
	if resp.Scores[labels.Malignant] != benignScores[0] || resp.Scores[labels.Benign] != benignScores[1] {
		t.Errorf("Unexpected scores %v", resp.Scores)
	}
}

func TestPredictFromImage_MissingField(t *testing.T) {
	router := newRouter(t, fixedScorer{scores: benignScores}, Options{})

	rec := serve(router, multipartRequest(t, "photo", fixturePNG(t)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
	if msg, _ := decodeBody(t, rec)["error"].(string); msg != "No image provided" {
		t.Errorf("Unexpected error %q", msg)
	}
}

func TestIndex(t *testing.T) {
	router := newRouter(t, fixedScorer{scores: benignScores}, Options{Title: "Lesion Check"})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
		t.Errorf("Unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "<title>Lesion Check</title>") {
		t.Error("Expected page title in body")
	}

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown path, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	transform, _ := preprocess.NewTransform(preprocess.DefaultParams())
	c, _ := classifier.New(fixedScorer{scores: benignScores}, transform, labels.Default(), nil)
	router := Routes(NewHandler(c, nil, Options{}), CORS{AllowOrigin: "https://clinic.example"}, nil)

	rec := serve(router, httptest.NewRequest(http.MethodOptions, "/predict", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://clinic.example" {
		t.Errorf("Unexpected allow origin %q", got)
	}
}

func TestRequestID(t *testing.T) {
	router := newRouter(t, fixedScorer{scores: benignScores}, Options{})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("Expected generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = serve(router, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("Expected incoming request id to be kept, got %q", got)
	}
}

func TestRecover(t *testing.T) {
	h := Recover(zap.NewNop(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rec.Code)
	}
	if msg, _ := decodeBody(t, rec)["error"].(string); msg != "internal server error" {
		t.Errorf("Unexpected error %q", msg)
	}
}

func TestPredict_ThinImageRejected(t *testing.T) {
	router := newRouter(t, fixedScorer{scores: benignScores}, Options{})

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 4000))); err != nil {
		t.Fatal(err)
	}
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())

	rec := serve(router, httptest.NewRequest(http.MethodPost, "/predict", predictBody(t, encoded)))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rec.Code)
	}
	if msg, _ := decodeBody(t, rec)["error"].(string); !strings.Contains(msg, "aspect ratio") {
		t.Errorf("Expected aspect ratio rejection, got %q", msg)
	}
}
