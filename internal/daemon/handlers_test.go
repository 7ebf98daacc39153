package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/codeprobe/internal/cache"
	"github.com/felixgeelhaar/codeprobe/internal/config"
	"github.com/felixgeelhaar/codeprobe/internal/domain"
	"github.com/felixgeelhaar/codeprobe/internal/llm"
	"github.com/felixgeelhaar/codeprobe/internal/puzzle"
)

type fakeStore struct {
	puzzles map[string]*domain.Puzzle
	reports []*domain.Report

	upserts  int
	gets     int
	countErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{puzzles: make(map[string]*domain.Puzzle)}
}

func (f *fakeStore) UpsertPuzzle(ctx context.Context, p *domain.Puzzle) error {
	f.upserts++
	f.puzzles[p.ID] = p
	return nil
}

func (f *fakeStore) GetPuzzle(ctx context.Context, id string) (*domain.Puzzle, error) {
	f.gets++
	p, ok := f.puzzles[id]
	if !ok {
		return nil, domain.ErrPuzzleNotFound
	}
	return p, nil
}

func (f *fakeStore) GetRandomPuzzle(ctx context.Context, language, category string) (*domain.Puzzle, error) {
	for _, p := range f.puzzles {
		if language != "" && p.Language != language {
			continue
		}
		if category != "" && p.Category != category {
			continue
		}
		return p, nil
	}
	return nil, domain.ErrPuzzleNotFound
}

func (f *fakeStore) ListPuzzles(ctx context.Context, language, category string, limit, offset int) ([]*domain.Puzzle, error) {
	out := make([]*domain.Puzzle, 0, len(f.puzzles))
	for _, p := range f.puzzles {
		if language != "" && p.Language != language {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) CountPuzzles(ctx context.Context) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return len(f.puzzles), nil
}

func (f *fakeStore) DeletePuzzle(ctx context.Context, id string) error {
	if _, ok := f.puzzles[id]; !ok {
		return domain.ErrPuzzleNotFound
	}
	delete(f.puzzles, id)
	return nil
}

func (f *fakeStore) SaveReport(ctx context.Context, r *domain.Report) error {
	f.reports = append(f.reports, r)
	return nil
}

func (f *fakeStore) Close() error { return nil }

type fakeGenerator struct {
	puzzle  *domain.Puzzle
	err     error
	calls   int
	lastReq puzzle.Request
}

func (f *fakeGenerator) Generate(ctx context.Context, req puzzle.Request) (*domain.Puzzle, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.puzzle, nil
}

type fakeGrader struct {
	result *domain.GradeResult
	err    error
	calls  int
}

func (f *fakeGrader) Grade(ctx context.Context, p *domain.Puzzle, sub *domain.Submission) (*domain.GradeResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func samplePuzzle() *domain.Puzzle {
	return &domain.Puzzle{
		ID: domain.IdentityKey("octocat", "hello", "pkg/thing.go", "abc123"),
		Source: domain.Source{
			Owner:         "octocat",
			Repo:          "hello",
			DefaultBranch: "main",
		},
		File: domain.File{
			Path:     "pkg/thing.go",
			Content:  "package thing\n\nfunc Answer() int { return 42 }\n",
			Language: "go",
			Size:     46,
		},
		Commit:   "abc123",
		Question: "What does Answer return?",
		Answer: domain.AnswerKey{
			StartLine: 3,
			EndLine:   3,
			Answer:    "42",
		},
		Explanation: "Answer returns the literal 42.",
		Rubric:      "Correct answer: 42. Grade by exact match or rubric in explanation.",
		Category:    "go",
		Language:    "go",
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
}

func newTestServer(store *fakeStore, gen generator, grd grader) *Server {
	s := &Server{
		cfg:         config.DefaultLocalConfig(),
		router:      http.NewServeMux(),
		llmRegistry: llm.NewRegistry(),
		store:       store,
		generator:   gen,
		grader:      grd,
		puzzles:     cache.NewPuzzleCache(8),
	}
	s.setupRoutes()
	return s
}

func doRequest(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(newFakeStore(), nil, nil)

	rec := doRequest(s, http.MethodGet, "/v1/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
	}
	body := decodeBody(t, rec)
	if body["status"] != "healthy" {
		t.Errorf("status field = %v; want healthy", body["status"])
	}
}

func TestHandleStatus(t *testing.T) {
	store := newFakeStore()
	p := samplePuzzle()
	store.puzzles[p.ID] = p
	s := newTestServer(store, nil, nil)

	rec := doRequest(s, http.MethodGet, "/v1/status", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
	}
	body := decodeBody(t, rec)
	if got := body["puzzles_stored"].(float64); got != 1 {
		t.Errorf("puzzles_stored = %v; want 1", got)
	}
}

func TestServerErrorHidesFaultDetails(t *testing.T) {
	store := newFakeStore()
	store.countErr = errors.New("dial tcp 10.0.0.5:5432: connection refused")
	s := newTestServer(store, nil, nil)

	rec := doRequest(s, http.MethodGet, "/v1/status", "")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; want %d", rec.Code, http.StatusInternalServerError)
	}
	body := decodeBody(t, rec)
	if _, ok := body["details"]; ok {
		t.Errorf("details = %v; infrastructure faults must not reach the client", body["details"])
	}
	if body["error"] != "failed to count puzzles" {
		t.Errorf("error = %v; want the stable message", body["error"])
	}
}

func TestClientErrorKeepsDetails(t *testing.T) {
	s := newTestServer(newFakeStore(), &fakeGenerator{puzzle: samplePuzzle()}, nil)

	rec := doRequest(s, http.MethodPost, "/v1/puzzles", "{not json")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want %d", rec.Code, http.StatusBadRequest)
	}
	body := decodeBody(t, rec)
	if body["details"] == nil || body["details"] == "" {
		t.Error("details missing; 4xx responses explain what was wrong with the request")
	}
}

func TestGeneratePuzzle(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{puzzle: samplePuzzle()}
	s := newTestServer(store, gen, nil)

	rec := doRequest(s, http.MethodPost, "/v1/puzzles", `{"language":"go","seed":"s1"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d; want %d (body %s)", rec.Code, http.StatusCreated, rec.Body.String())
	}
	if gen.lastReq.Language != "go" || gen.lastReq.Seed != "s1" {
		t.Errorf("generator got %+v; want language go, seed s1", gen.lastReq)
	}
	if store.upserts != 1 {
		t.Errorf("store upserts = %d; want 1", store.upserts)
	}

	body := decodeBody(t, rec)
	if body["id"] != "octocat|hello|pkg/thing.go|abc123" {
		t.Errorf("id = %v; want identity key", body["id"])
	}
	// The learner view never carries the key.
	for _, hidden := range []string{"answer", "explanation", "rubric"} {
		if _, ok := body[hidden]; ok {
			t.Errorf("response exposes %q", hidden)
		}
	}
}

func TestGeneratePuzzleEmptyBody(t *testing.T) {
	gen := &fakeGenerator{puzzle: samplePuzzle()}
	s := newTestServer(newFakeStore(), gen, nil)

	rec := doRequest(s, http.MethodPost, "/v1/puzzles", "")

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d; want %d", rec.Code, http.StatusCreated)
	}
	if gen.lastReq.Language != "" {
		t.Errorf("language = %q; want empty (random pick)", gen.lastReq.Language)
	}
}

func TestGeneratePuzzleErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests},
		{"budget exhausted", domain.ErrNoPuzzleProduced, http.StatusBadGateway},
		{"unknown language", domain.ErrInvalidInput, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(newFakeStore(), &fakeGenerator{err: tt.err}, nil)

			rec := doRequest(s, http.MethodPost, "/v1/puzzles", `{"language":"go"}`)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d; want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestGeneratePuzzleNoProvider(t *testing.T) {
	s := newTestServer(newFakeStore(), nil, nil)

	rec := doRequest(s, http.MethodPost, "/v1/puzzles", `{"language":"go"}`)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d; want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestGetPuzzleByIdentity(t *testing.T) {
	store := newFakeStore()
	p := samplePuzzle()
	store.puzzles[p.ID] = p
	s := newTestServer(store, nil, nil)

	// Identity keys contain "|" and "/"; the wildcard route must accept
	// them verbatim.
	rec := doRequest(s, http.MethodGet, "/v1/puzzles/octocat|hello|pkg/thing.go|abc123", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["question"] != p.Question {
		t.Errorf("question = %v; want %q", body["question"], p.Question)
	}
}

func TestGetPuzzleNotFound(t *testing.T) {
	s := newTestServer(newFakeStore(), nil, nil)

	rec := doRequest(s, http.MethodGet, "/v1/puzzles/nobody|nothing|x.go|deadbeef", "")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d; want %d", rec.Code, http.StatusNotFound)
	}
}

func TestGetPuzzleCacheHit(t *testing.T) {
	store := newFakeStore()
	p := samplePuzzle()
	store.puzzles[p.ID] = p
	s := newTestServer(store, nil, nil)

	target := "/v1/puzzles/" + p.ID
	doRequest(s, http.MethodGet, target, "")
	doRequest(s, http.MethodGet, target, "")

	if store.gets != 1 {
		t.Errorf("store gets = %d; want 1 (second read served from cache)", store.gets)
	}
}

func TestRandomPuzzle(t *testing.T) {
	store := newFakeStore()
	p := samplePuzzle()
	store.puzzles[p.ID] = p
	s := newTestServer(store, nil, nil)

	rec := doRequest(s, http.MethodGet, "/v1/puzzles/random?language=go", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
	}

	rec = doRequest(s, http.MethodGet, "/v1/puzzles/random?language=rust", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status for unmatched filter = %d; want %d", rec.Code, http.StatusNotFound)
	}
}

func TestListPuzzles(t *testing.T) {
	store := newFakeStore()
	p := samplePuzzle()
	store.puzzles[p.ID] = p
	s := newTestServer(store, nil, nil)

	rec := doRequest(s, http.MethodGet, "/v1/puzzles?language=go&limit=10", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
	}
	body := decodeBody(t, rec)
	list := body["puzzles"].([]any)
	if len(list) != 1 {
		t.Fatalf("len(puzzles) = %d; want 1", len(list))
	}
	entry := list[0].(map[string]any)
	if _, ok := entry["answer"]; ok {
		t.Error("list entry exposes the answer key")
	}
}

func TestDeletePuzzle(t *testing.T) {
	store := newFakeStore()
	p := samplePuzzle()
	store.puzzles[p.ID] = p
	s := newTestServer(store, nil, nil)
	s.puzzles.Put(p)

	target := "/v1/puzzles/" + p.ID
	rec := doRequest(s, http.MethodDelete, target, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
	}
	if _, ok := s.puzzles.Get(p.ID); ok {
		t.Error("puzzle still cached after delete")
	}

	rec = doRequest(s, http.MethodDelete, target, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d; want %d", rec.Code, http.StatusNotFound)
	}
}

func TestGrade(t *testing.T) {
	store := newFakeStore()
	p := samplePuzzle()
	store.puzzles[p.ID] = p
	grd := &fakeGrader{result: &domain.GradeResult{Correct: true, Explanation: "right"}}
	s := newTestServer(store, nil, grd)

	body := `{"puzzle_id":"` + p.ID + `","ranges":[{"start":3,"end":3}]}`
	rec := doRequest(s, http.MethodPost, "/v1/grade", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	got := decodeBody(t, rec)
	if got["correct"] != true {
		t.Errorf("correct = %v; want true", got["correct"])
	}
	if grd.calls != 1 {
		t.Errorf("grader calls = %d; want 1", grd.calls)
	}
}

func TestGradeRejectsInvalidSubmission(t *testing.T) {
	store := newFakeStore()
	p := samplePuzzle()
	store.puzzles[p.ID] = p
	grd := &fakeGrader{result: &domain.GradeResult{Correct: true}}
	s := newTestServer(store, nil, grd)

	// Empty ranges with the flag unset never reach lookup or grading.
	body := `{"puzzle_id":"` + p.ID + `","ranges":[],"insufficient_context":false}`
	rec := doRequest(s, http.MethodPost, "/v1/grade", body)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want %d", rec.Code, http.StatusBadRequest)
	}
	if grd.calls != 0 {
		t.Errorf("grader calls = %d; want 0", grd.calls)
	}
	if store.gets != 0 {
		t.Errorf("store gets = %d; want 0", store.gets)
	}
}

func TestGradeUnknownPuzzle(t *testing.T) {
	grd := &fakeGrader{result: &domain.GradeResult{}}
	s := newTestServer(newFakeStore(), nil, grd)

	body := `{"puzzle_id":"a|b|c.go|d","ranges":[{"start":1,"end":1}]}`
	rec := doRequest(s, http.MethodPost, "/v1/grade", body)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d; want %d", rec.Code, http.StatusNotFound)
	}
	if grd.calls != 0 {
		t.Errorf("grader calls = %d; want 0", grd.calls)
	}
}

func TestGradeErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"grading unavailable", domain.ErrGradingUnavailable, http.StatusServiceUnavailable},
		{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			p := samplePuzzle()
			store.puzzles[p.ID] = p
			s := newTestServer(store, nil, &fakeGrader{err: tt.err})

			body := `{"puzzle_id":"` + p.ID + `","ranges":[{"start":3,"end":3}]}`
			rec := doRequest(s, http.MethodPost, "/v1/grade", body)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d; want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestCreateReport(t *testing.T) {
	store := newFakeStore()
	s := newTestServer(store, nil, nil)

	body := `{"puzzle_id":"a|b|c.go|d","reason":"wrong_answer","detail":"key points at a comment"}`
	rec := doRequest(s, http.MethodPost, "/v1/reports", body)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d; want %d (body %s)", rec.Code, http.StatusCreated, rec.Body.String())
	}
	if len(store.reports) != 1 {
		t.Fatalf("reports saved = %d; want 1", len(store.reports))
	}
	saved := store.reports[0]
	if saved.ID == "" {
		t.Error("report saved without an id")
	}
	if saved.Reason != "wrong_answer" {
		t.Errorf("reason = %q; want wrong_answer", saved.Reason)
	}
}

func TestCreateReportRequiresFields(t *testing.T) {
	s := newTestServer(newFakeStore(), nil, nil)

	rec := doRequest(s, http.MethodPost, "/v1/reports", `{"detail":"no reason given"}`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d; want %d", rec.Code, http.StatusBadRequest)
	}
}
