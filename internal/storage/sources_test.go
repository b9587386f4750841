package storage

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func saveTestProject(t *testing.T, s *Store, id string, terms ...string) Project {
	t.Helper()
	p := Project{
		ID:          id,
		Title:       "Project " + id,
		SearchTerms: terms,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	if err := s.SaveProject(p); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}
	return p
}

func newTestSource(projectID, id, url string) DiscoveredSource {
	return DiscoveredSource{
		ID:                 id,
		ProjectID:          projectID,
		URL:                url,
		Title:              "Title for " + id,
		SourceSite:         "example.org",
		SearchTerm:         "consciousness",
		QualityScore:       0.5,
		RelevanceScore:     0.6,
		CredibilityScore:   0.7,
		RecommendationTier: TierMedium,
		ContentPreview:     "preview " + id,
	}
}

func saveTestText(t *testing.T, s *Store, id, url string) LibraryText {
	t.Helper()
	text, created, err := s.CreateLibraryText(LibraryText{
		ID:            id,
		Title:         "Text " + id,
		Content:       "content",
		SourceURL:     url,
		DiscoveredVia: DiscoveredVia,
		UploadDate:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateLibraryText: %v", err)
	}
	if !created {
		t.Fatalf("CreateLibraryText(%s) reused an existing text", id)
	}
	return text
}

func TestProjectRoundTrip(t *testing.T) {
	s := openTestStore(t)
	want := saveTestProject(t, s, "p1", "consciousness", "phenomenology")

	got, err := s.GetProject("p1")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.Title != want.Title {
		t.Errorf("Title = %q, want %q", got.Title, want.Title)
	}
	if len(got.SearchTerms) != 2 || got.SearchTerms[0] != "consciousness" || got.SearchTerms[1] != "phenomenology" {
		t.Errorf("SearchTerms = %v, want [consciousness phenomenology]", got.SearchTerms)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}

	if _, err := s.GetProject("missing"); err != ErrNotFound {
		t.Errorf("GetProject(missing) error = %v, want ErrNotFound", err)
	}
}

func TestPersistDiscoveredSource_Dedup(t *testing.T) {
	s := openTestStore(t)
	saveTestProject(t, s, "p1")

	first, created, err := s.PersistDiscoveredSource(newTestSource("p1", "src-1", "https://example.org/a"))
	if err != nil {
		t.Fatalf("first persist: %v", err)
	}
	if !created {
		t.Fatal("first persist: created = false, want true")
	}

	again := newTestSource("p1", "src-2", "https://example.org/a")
	again.QualityScore = 0.9
	again.ContentPreview = "fresher preview"
	second, created, err := s.PersistDiscoveredSource(again)
	if err != nil {
		t.Fatalf("second persist: %v", err)
	}
	if created {
		t.Error("second persist: created = true, want false")
	}
	if second.ID != first.ID {
		t.Errorf("ID = %q, want original %q", second.ID, first.ID)
	}
	if second.QualityScore != 0.9 {
		t.Errorf("QualityScore = %v, want 0.9", second.QualityScore)
	}
	if second.ContentPreview != "fresher preview" {
		t.Errorf("ContentPreview = %q, want %q", second.ContentPreview, "fresher preview")
	}

	n, err := s.CountDiscoveredSources("p1")
	if err != nil {
		t.Fatalf("CountDiscoveredSources: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestPersistDiscoveredSource_SameURLDifferentProjects(t *testing.T) {
	s := openTestStore(t)
	saveTestProject(t, s, "p1")
	saveTestProject(t, s, "p2")

	if _, _, err := s.PersistDiscoveredSource(newTestSource("p1", "a", "https://example.org/x")); err != nil {
		t.Fatalf("persist p1: %v", err)
	}
	_, created, err := s.PersistDiscoveredSource(newTestSource("p2", "b", "https://example.org/x"))
	if err != nil {
		t.Fatalf("persist p2: %v", err)
	}
	if !created {
		t.Error("same url in another project should create a new row")
	}
}

func TestPersistDiscoveredSource_KeepsIngestedState(t *testing.T) {
	s := openTestStore(t)
	saveTestProject(t, s, "p1")

	src, _, err := s.PersistDiscoveredSource(newTestSource("p1", "src-1", "https://example.org/a"))
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	saveTestText(t, s, "text-1", src.URL)
	if err := s.MarkIngested(src.ID, "text-1"); err != nil {
		t.Fatalf("MarkIngested: %v", err)
	}

	got, _, err := s.PersistDiscoveredSource(newTestSource("p1", "src-9", "https://example.org/a"))
	if err != nil {
		t.Fatalf("re-persist: %v", err)
	}
	if got.State != Ingested("text-1") {
		t.Errorf("State = %+v, want ingested(text-1)", got.State)
	}
	if !got.State.TextAddedToLibrary() {
		t.Error("TextAddedToLibrary = false after re-persist")
	}
}

func TestPersistDiscoveredSource_Concurrent(t *testing.T) {
	s := openTestStore(t)
	saveTestProject(t, s, "p1")

	const goroutines = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			_, created, err := s.PersistDiscoveredSource(newTestSource("p1", fmt.Sprintf("src-%d", g), "https://example.org/same"))
			if err != nil {
				t.Errorf("persist %d: %v", g, err)
				return
			}
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}(g)
	}
	wg.Wait()

	if createdCount != 1 {
		t.Errorf("created %d rows, want exactly 1", createdCount)
	}
	n, err := s.CountDiscoveredSources("p1")
	if err != nil {
		t.Fatalf("CountDiscoveredSources: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestListDiscoveredSources_DiscoveryOrder(t *testing.T) {
	s := openTestStore(t)
	saveTestProject(t, s, "p1")

	urls := []string{"https://z.org/1", "https://a.org/2", "https://m.org/3"}
	for i, u := range urls {
		if _, _, err := s.PersistDiscoveredSource(newTestSource("p1", fmt.Sprintf("src-%d", i), u)); err != nil {
			t.Fatalf("persist %s: %v", u, err)
		}
	}

	got, err := s.ListDiscoveredSources("p1")
	if err != nil {
		t.Fatalf("ListDiscoveredSources: %v", err)
	}
	if len(got) != len(urls) {
		t.Fatalf("got %d sources, want %d", len(got), len(urls))
	}
	for i, u := range urls {
		if got[i].URL != u {
			t.Errorf("[%d].URL = %q, want %q", i, got[i].URL, u)
		}
		if got[i].State.Kind != StatePending {
			t.Errorf("[%d].State = %q, want pending", i, got[i].State.Kind)
		}
	}
}

func TestMarkIngested_Idempotent(t *testing.T) {
	s := openTestStore(t)
	saveTestProject(t, s, "p1")
	src, _, err := s.PersistDiscoveredSource(newTestSource("p1", "src-1", "https://example.org/a"))
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	saveTestText(t, s, "text-1", src.URL)

	for i := 0; i < 2; i++ {
		if err := s.MarkIngested(src.ID, "text-1"); err != nil {
			t.Fatalf("MarkIngested call %d: %v", i+1, err)
		}
	}

	got, err := s.GetDiscoveredSource(src.ID)
	if err != nil {
		t.Fatalf("GetDiscoveredSource: %v", err)
	}
	if got.State != Ingested("text-1") {
		t.Errorf("State = %+v, want ingested(text-1)", got.State)
	}
}

func TestMarkIngested_DifferentTextFailsLoudly(t *testing.T) {
	s := openTestStore(t)
	saveTestProject(t, s, "p1")
	src, _, err := s.PersistDiscoveredSource(newTestSource("p1", "src-1", "https://example.org/a"))
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	saveTestText(t, s, "text-1", src.URL)
	saveTestText(t, s, "text-2", "https://example.org/other")

	if err := s.MarkIngested(src.ID, "text-1"); err != nil {
		t.Fatalf("MarkIngested: %v", err)
	}
	err = s.MarkIngested(src.ID, "text-2")
	if !errors.Is(err, ErrAlreadyIngested) {
		t.Fatalf("error = %v, want ErrAlreadyIngested", err)
	}

	got, err := s.GetDiscoveredSource(src.ID)
	if err != nil {
		t.Fatalf("GetDiscoveredSource: %v", err)
	}
	if got.State.LibraryTextID != "text-1" {
		t.Errorf("LibraryTextID = %q, want text-1 (must not be overwritten)", got.State.LibraryTextID)
	}
}

func TestMarkIngested_Validation(t *testing.T) {
	s := openTestStore(t)
	saveTestProject(t, s, "p1")
	src, _, err := s.PersistDiscoveredSource(newTestSource("p1", "src-1", "https://example.org/a"))
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	saveTestText(t, s, "text-other", "https://example.org/b")

	tests := []struct {
		name     string
		sourceID string
		textID   string
		notFound bool
	}{
		{name: "unknown source", sourceID: "nope", textID: "text-other", notFound: true},
		{name: "unknown text", sourceID: src.ID, textID: "nope", notFound: true},
		{name: "url mismatch", sourceID: src.ID, textID: "text-other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.MarkIngested(tt.sourceID, tt.textID)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if tt.notFound && !errors.Is(err, ErrNotFound) {
				t.Errorf("error = %v, want ErrNotFound", err)
			}
		})
	}

	got, err := s.GetDiscoveredSource(src.ID)
	if err != nil {
		t.Fatalf("GetDiscoveredSource: %v", err)
	}
	if got.State.TextAddedToLibrary() {
		t.Error("source marked ingested after failed transitions")
	}
}

func TestRecordFetchOutcome(t *testing.T) {
	s := openTestStore(t)
	saveTestProject(t, s, "p1")
	src, _, err := s.PersistDiscoveredSource(newTestSource("p1", "src-1", "https://example.org/a"))
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := s.RecordFetchOutcome(src.ID, Failed("ProviderError"), at); err != nil {
		t.Fatalf("RecordFetchOutcome: %v", err)
	}
	got, err := s.GetDiscoveredSource(src.ID)
	if err != nil {
		t.Fatalf("GetDiscoveredSource: %v", err)
	}
	if got.State != Failed("ProviderError") {
		t.Errorf("State = %+v, want failed(ProviderError)", got.State)
	}
	if !got.LastAttemptAt.Equal(at) {
		t.Errorf("LastAttemptAt = %v, want %v", got.LastAttemptAt, at)
	}

	if err := s.RecordFetchOutcome(src.ID, Ingested("x"), at); err == nil {
		t.Error("recording an ingested outcome should fail")
	}
	if err := s.RecordFetchOutcome("missing", Failed("x"), at); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing source error = %v, want ErrNotFound", err)
	}

	// Ingested sources are never downgraded.
	saveTestText(t, s, "text-1", src.URL)
	if err := s.MarkIngested(src.ID, "text-1"); err != nil {
		t.Fatalf("MarkIngested: %v", err)
	}
	if err := s.RecordFetchOutcome(src.ID, Insufficient("short"), at); err != nil {
		t.Fatalf("RecordFetchOutcome on ingested: %v", err)
	}
	got, _ = s.GetDiscoveredSource(src.ID)
	if got.State != Ingested("text-1") {
		t.Errorf("State = %+v, want ingested(text-1)", got.State)
	}
}

func TestListUningestedSources(t *testing.T) {
	s := openTestStore(t)
	saveTestProject(t, s, "p1")

	tiers := []Tier{TierHigh, TierLow, TierMedium, TierHigh}
	var ids []string
	for i, tier := range tiers {
		src := newTestSource("p1", fmt.Sprintf("src-%d", i), fmt.Sprintf("https://example.org/%d", i))
		src.RecommendationTier = tier
		stored, _, err := s.PersistDiscoveredSource(src)
		if err != nil {
			t.Fatalf("persist %d: %v", i, err)
		}
		ids = append(ids, stored.ID)
	}
	saveTestText(t, s, "text-0", "https://example.org/0")
	if err := s.MarkIngested(ids[0], "text-0"); err != nil {
		t.Fatalf("MarkIngested: %v", err)
	}
	if err := s.RecordFetchOutcome(ids[2], Failed("ProviderError"), time.Now()); err != nil {
		t.Fatalf("RecordFetchOutcome: %v", err)
	}

	tests := []struct {
		name    string
		minTier Tier
		limit   int
		want    []string
	}{
		{name: "all tiers", minTier: TierLow, limit: 0, want: []string{ids[1], ids[3], ids[2]}},
		{name: "exclude low", minTier: TierMedium, limit: 0, want: []string{ids[3], ids[2]}},
		{name: "high only", minTier: TierHigh, limit: 0, want: []string{ids[3]}},
		{name: "capped", minTier: TierLow, limit: 2, want: []string{ids[1], ids[3]}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListUningestedSources("p1", tt.minTier, tt.limit)
			if err != nil {
				t.Fatalf("ListUningestedSources: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d sources, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i].ID != tt.want[i] {
					t.Errorf("[%d].ID = %q, want %q", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func TestListUningestedSources_AttemptedLast(t *testing.T) {
	s := openTestStore(t)
	saveTestProject(t, s, "p1")

	var ids []string
	for i := range 4 {
		stored, _, err := s.PersistDiscoveredSource(newTestSource("p1", fmt.Sprintf("src-%d", i), fmt.Sprintf("https://example.org/%d", i)))
		if err != nil {
			t.Fatalf("persist %d: %v", i, err)
		}
		ids = append(ids, stored.ID)
	}

	older := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	if err := s.RecordFetchOutcome(ids[0], Failed("ProviderError"), newer); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordFetchOutcome(ids[1], Insufficient("short"), older); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListUningestedSources("p1", TierLow, 3)
	if err != nil {
		t.Fatalf("ListUningestedSources: %v", err)
	}
	want := []string{ids[2], ids[3], ids[1]}
	if len(got) != len(want) {
		t.Fatalf("got %d sources, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("[%d].ID = %q, want %q", i, got[i].ID, want[i])
		}
	}
}

func TestListReconcilable(t *testing.T) {
	s := openTestStore(t)
	saveTestProject(t, s, "p1")
	a, _, _ := s.PersistDiscoveredSource(newTestSource("p1", "a", "https://example.org/a"))
	s.PersistDiscoveredSource(newTestSource("p1", "b", "https://example.org/b"))
	saveTestText(t, s, "text-a", a.URL)

	got, err := s.ListReconcilable("p1")
	if err != nil {
		t.Fatalf("ListReconcilable: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d reconcilable, want 1", len(got))
	}
	if got[0].SourceID != a.ID || got[0].LibraryTextID != "text-a" {
		t.Errorf("got %+v, want source %s with text-a", got[0], a.ID)
	}

	if err := s.MarkIngested(a.ID, "text-a"); err != nil {
		t.Fatalf("MarkIngested: %v", err)
	}
	got, err = s.ListReconcilable("p1")
	if err != nil {
		t.Fatalf("ListReconcilable after mark: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d reconcilable after mark, want 0", len(got))
	}
}
