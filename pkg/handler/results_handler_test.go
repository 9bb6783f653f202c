package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	msdb "github.com/yumyai/magscreen/pkg/db"
)

type rawResponse struct {
	Success bool            `json:"success"`
	Count   int             `json:"count"`
	Payload json.RawMessage `json:"payload"`
	Error   string          `json:"error"`
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	ctx := context.Background()

	rdb, err := msdb.OpenResults(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("OpenResults: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })

	run, err := rdb.BeginRun(ctx, "run")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := rdb.SaveScreen(ctx, run.ID, []msdb.ScreenRecord{
		{MAG: "MAG_1", Metabolism: "acetate", TotalSteps: 4, CoveredSteps: 3, RequiredSteps: 3, Candidate: true},
		{MAG: "MAG_2", Metabolism: "acetate", TotalSteps: 4, CoveredSteps: 1, RequiredSteps: 3},
	}); err != nil {
		t.Fatalf("SaveScreen: %v", err)
	}
	if err := rdb.SaveDomainGenes(ctx, run.ID, []msdb.DomainGeneRecord{
		{Metabolism: "acetate", MAG: "MAG_1", Step: "S1", KO: "K00925", Query: "q1", Label: "PASS"},
		{Metabolism: "acetate", MAG: "MAG_1", Step: "S2", KO: "K00625", Query: "q2", Label: "HOLD"},
	}); err != nil {
		t.Fatalf("SaveDomainGenes: %v", err)
	}
	if err := rdb.SaveDomainMAGs(ctx, run.ID, []msdb.DomainMAGRecord{
		{Metabolism: "acetate", MAG: "MAG_1", NQueries: 2, NPass: 1, NHold: 1, StepsTotal: 2, Label: "PUTATIVE"},
	}); err != nil {
		t.Fatalf("SaveDomainMAGs: %v", err)
	}
	if err := rdb.SaveHomology(ctx, run.ID, []msdb.HomologyRecord{
		{Metabolism: "acetate", MAG: "MAG_1", Query: "q2", DomainLabel: "HOLD", Quality: "GOOD"},
	}); err != nil {
		t.Fatalf("SaveHomology: %v", err)
	}
	if err := rdb.FinishRun(ctx, run.ID, nil); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	return NewRouter(&DBContext{Results: rdb})
}

func get(t *testing.T, h http.Handler, target string) (int, rawResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	var body rawResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v (%s)", target, err, rec.Body.String())
	}
	return rec.Code, body
}

func TestHealthCheck(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Health != "ok" {
		t.Errorf("health = %q, want ok", body.Health)
	}
}

func TestResultsEndpoints(t *testing.T) {
	h := newTestRouter(t)

	tests := []struct {
		name      string
		target    string
		wantCode  int
		wantCount int
	}{
		{"runs", "/api/v1/runs", http.StatusOK, 1},
		{"all evidence", "/api/v1/evidence?metabolism=Acetate", http.StatusOK, 2},
		{"candidates", "/api/v1/evidence?candidate=true", http.StatusOK, 1},
		{"bad candidate", "/api/v1/evidence?candidate=maybe", http.StatusBadRequest, 0},
		{"mag level", "/api/v1/validation", http.StatusOK, 1},
		{"gene level hold", "/api/v1/validation?level=gene&label=hold", http.StatusOK, 1},
		{"bad level", "/api/v1/validation?level=contig", http.StatusBadRequest, 0},
		{"homology good", "/api/v1/homology?label=GOOD", http.StatusOK, 1},
		{"homology weak", "/api/v1/homology?label=WEAK", http.StatusOK, 0},
		{"unknown run", "/api/v1/evidence?run_id=nope", http.StatusOK, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := get(t, h, tt.target)
			if code != tt.wantCode {
				t.Errorf("status = %d, want %d", code, tt.wantCode)
			}
			if body.Count != tt.wantCount {
				t.Errorf("count = %d, want %d", body.Count, tt.wantCount)
			}
			if body.Success != (tt.wantCode == http.StatusOK) {
				t.Errorf("success = %v", body.Success)
			}
			if code == http.StatusBadRequest && body.Error == "" {
				t.Error("bad request without an error message")
			}
		})
	}
}

func TestValidationPayload(t *testing.T) {
	h := newTestRouter(t)

	_, body := get(t, h, "/api/v1/validation?level=mag&metabolism=acetate")
	var mags []msdb.DomainMAGRecord
	if err := json.Unmarshal(body.Payload, &mags); err != nil {
		t.Fatal(err)
	}
	if len(mags) != 1 {
		t.Fatalf("got %d MAG rows, want 1", len(mags))
	}
	if mags[0].Label != "PUTATIVE" || mags[0].NHold != 1 {
		t.Errorf("MAG row = %+v", mags[0])
	}

	_, body = get(t, h, "/api/v1/homology")
	var hom []msdb.HomologyRecord
	if err := json.Unmarshal(body.Payload, &hom); err != nil {
		t.Fatal(err)
	}
	if len(hom) != 1 {
		t.Fatalf("got %d homology rows, want 1", len(hom))
	}
	if hom[0].Query != "q2" {
		t.Errorf("query = %s, want q2", hom[0].Query)
	}
	if hom[0].BestPident != nil {
		t.Errorf("BestPident = %v, want nil", *hom[0].BestPident)
	}
}
