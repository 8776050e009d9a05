package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/convergence/internal/model"
	"github.com/ppiankov/convergence/internal/worker"
)

const sampleArticleSet = `<?xml version="1.0"?>
<PubmedArticleSet>
  <PubmedArticle>
    <MedlineCitation Status="MEDLINE">
      <PMID Version="1">38000001</PMID>
      <Article>
        <Journal>
          <JournalIssue>
            <PubDate><Year>2025</Year><Month>Mar</Month></PubDate>
          </JournalIssue>
          <Title>Nature Aging</Title>
        </Journal>
        <ArticleTitle>NAD<sup>+</sup> repletion restores <i>mitophagy</i> in aged mice</ArticleTitle>
        <Abstract>
          <AbstractText Label="BACKGROUND">Mitochondrial decline is a hallmark.</AbstractText>
          <AbstractText Label="RESULTS">NR increased NAD+ &amp; mitophagy.</AbstractText>
        </Abstract>
      </Article>
      <MeshHeadingList>
        <MeshHeading><DescriptorName UI="D000375">Aging</DescriptorName></MeshHeading>
        <MeshHeading><DescriptorName UI="D009243">NAD</DescriptorName></MeshHeading>
      </MeshHeadingList>
    </MedlineCitation>
    <PubmedData>
      <ArticleIdList>
        <ArticleId IdType="pubmed">38000001</ArticleId>
        <ArticleId IdType="doi">10.1038/s43587-025-0001</ArticleId>
      </ArticleIdList>
    </PubmedData>
  </PubmedArticle>
  <PubmedArticle>
    <MedlineCitation>
      <PMID Version="1">38000002</PMID>
      <Article>
        <Journal>
          <JournalIssue><PubDate><MedlineDate>2024 Nov-Dec</MedlineDate></PubDate></JournalIssue>
          <Title>Aging Cell</Title>
        </Journal>
        <ArticleTitle>Senolytics in humans</ArticleTitle>
      </Article>
    </MedlineCitation>
  </PubmedArticle>
</PubmedArticleSet>`

func withInstantSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var waits []time.Duration
	orig := fetchSleepFunc
	fetchSleepFunc = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	t.Cleanup(func() { fetchSleepFunc = orig })
	return &waits
}

func testConfig(baseURL string) model.PubMedConfig {
	cfg := model.DefaultConfig().PubMed
	cfg.BaseURL = baseURL
	cfg.APIKey = "k123"
	return cfg
}

func TestParseArticleSet(t *testing.T) {
	papers, err := ParseArticleSet([]byte(sampleArticleSet))
	if err != nil {
		t.Fatalf("ParseArticleSet: %v", err)
	}
	if len(papers) != 2 {
		t.Fatalf("Expected 2 papers, got %d", len(papers))
	}

	p := papers[0]
	if p.PMID != "38000001" {
		t.Errorf("PMID = %q", p.PMID)
	}
	if p.Title != "NAD+ repletion restores mitophagy in aged mice" {
		t.Errorf("Title = %q", p.Title)
	}
	if p.Abstract != "Mitochondrial decline is a hallmark. NR increased NAD+ & mitophagy." {
		t.Errorf("Abstract = %q", p.Abstract)
	}
	if p.Journal != "Nature Aging" || p.Year != "2025" {
		t.Errorf("Journal/Year = %q/%q", p.Journal, p.Year)
	}
	if p.DOI != "10.1038/s43587-025-0001" {
		t.Errorf("DOI = %q", p.DOI)
	}
	if len(p.MeshTerms) != 2 || p.MeshTerms[0] != "Aging" {
		t.Errorf("MeshTerms = %v", p.MeshTerms)
	}

	if papers[1].Year != "2024" {
		t.Errorf("Expected MedlineDate year fallback, got %q", papers[1].Year)
	}
	if papers[1].Abstract != "" || papers[1].DOI != "" {
		t.Errorf("Expected empty abstract and DOI, got %+v", papers[1])
	}
}

func TestParseArticleSet_Invalid(t *testing.T) {
	if _, err := ParseArticleSet([]byte("<PubmedArticleSet><oops")); err == nil {
		t.Error("Expected error for truncated XML")
	}
}

func TestClient_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/esearch.fcgi" {
			t.Errorf("Expected path /esearch.fcgi, got %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("db") != "pubmed" || q.Get("retmode") != "json" {
			t.Errorf("Unexpected params: %v", q)
		}
		if q.Get("term") != "senolytic AND aging" || q.Get("retmax") != "5" {
			t.Errorf("Unexpected term/retmax: %v", q)
		}
		if q.Get("reldate") != "30" || q.Get("datetype") != "edat" {
			t.Errorf("Expected 30-day edat window, got %v", q)
		}
		if q.Get("api_key") != "k123" {
			t.Errorf("Expected api_key, got %q", q.Get("api_key"))
		}
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "convergence/") {
			t.Errorf("Unexpected User-Agent %q", r.Header.Get("User-Agent"))
		}
		fmt.Fprint(w, `{"esearchresult":{"count":"2","idlist":["38000001","38000002"]}}`)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), nil, nil)
	ids, err := client.Search(context.Background(), "senolytic AND aging", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 2 || ids[0] != "38000001" {
		t.Errorf("ids = %v", ids)
	}
}

func TestClient_SearchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"API key invalid"}`)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), nil, nil)
	if _, err := client.Search(context.Background(), "x", 1); err == nil || !strings.Contains(err.Error(), "API key invalid") {
		t.Errorf("Expected esearch error, got %v", err)
	}
}

func TestClient_SearchAndFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/esearch.fcgi":
			fmt.Fprint(w, `{"esearchresult":{"idlist":["38000001","38000002"]}}`)
		case "/efetch.fcgi":
			if got := r.URL.Query().Get("id"); got != "38000001,38000002" {
				t.Errorf("Expected comma-joined ids, got %q", got)
			}
			if r.URL.Query().Get("retmode") != "xml" {
				t.Errorf("Expected retmode=xml")
			}
			fmt.Fprint(w, sampleArticleSet)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), nil, nil)
	papers, err := client.SearchAndFetch(context.Background(), "NAD+ AND aging", 2)
	if err != nil {
		t.Fatalf("SearchAndFetch: %v", err)
	}
	if len(papers) != 2 {
		t.Fatalf("Expected 2 papers, got %d", len(papers))
	}
	for _, p := range papers {
		if p.Query != "NAD+ AND aging" {
			t.Errorf("Expected query stamped on %s, got %q", p.PMID, p.Query)
		}
	}
}

func TestClient_FetchEmpty(t *testing.T) {
	client := NewClient(testConfig("http://127.0.0.1:0"), nil, nil)
	papers, err := client.Fetch(context.Background(), nil)
	if err != nil || papers != nil {
		t.Errorf("Expected no request for empty ids, got %v, %v", papers, err)
	}
}

func TestClient_RetriesRateLimit(t *testing.T) {
	waits := withInstantSleep(t)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			fmt.Fprint(w, `{"esearchresult":{"idlist":["1"]}}`)
		}
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), nil, nil)
	ids, err := client.Search(context.Background(), "x", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 1 || calls.Load() != 3 {
		t.Errorf("Expected success on third call, got ids=%v calls=%d", ids, calls.Load())
	}
	if len(*waits) != 2 || (*waits)[0] != 7*time.Second || (*waits)[1] != 2*time.Second {
		t.Errorf("Expected waits [7s 2s], got %v", *waits)
	}
}

func TestClient_RetriesExhausted(t *testing.T) {
	withInstantSleep(t)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxRetries = 2
	client := NewClient(cfg, nil, nil)
	if _, err := client.Search(context.Background(), "x", 1); err == nil {
		t.Fatal("Expected error after retries")
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
}

func TestClient_NoRetryOnClientError(t *testing.T) {
	withInstantSleep(t)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), nil, nil)
	if _, err := client.Search(context.Background(), "x", 1); err == nil {
		t.Fatal("Expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("Expected a single attempt, got %d", calls.Load())
	}
}

func TestClient_LimiterCancelled(t *testing.T) {
	limiter := worker.NewLimiter(0.001, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"esearchresult":{"idlist":[]}}`)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), limiter, nil)
	if _, err := client.Search(context.Background(), "x", 1); err != nil {
		t.Fatalf("first Search: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.Search(ctx, "x", 1); err == nil {
		t.Error("Expected the second call to fail waiting on the limiter")
	}
}
