package importsources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reddot-watch/breakingnews/internal/database"
	"reddot-watch/breakingnews/internal/models"
	"reddot-watch/breakingnews/internal/registry"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	db, err := database.NewDB(database.NewConfig(filepath.Join(t.TempDir(), "import.db")))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return registry.New(db)
}

const sourcesCSV = `name,url,type,category,language,country,credibility
Wire,https://wire.example/rss,rss,world,en,US,92
Conversation,https://conv.example/articles.atom,atom,analysis,,,
Wire again,https://wire.example/rss,rss,world,en,US,50
Broken,https://broken.example/rss,telegraph,world,en,,
,https://nameless.example/feed,,,fr,FR,140
Bad score,https://score.example/rss,rss,,,,high
`

func TestImportReportsBadRowsWithoutFailing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := newRegistry(t)

	res, err := NewImporter(reg, "").Import(ctx, strings.NewReader(sourcesCSV))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Total != 6 || res.Imported != 3 || len(res.Errors) != 3 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Errors[0], "duplicate URL") {
		t.Fatalf("first error = %q, want duplicate URL", res.Errors[0])
	}

	wire, err := reg.GetByURL(ctx, "https://wire.example/rss")
	if err != nil {
		t.Fatalf("GetByURL: %v", err)
	}
	if wire.Name != "Wire" || wire.CredibilityScore != 92 || wire.Country != "US" || wire.AddedBy != models.AddedByImport {
		t.Fatalf("wire = %+v", wire)
	}

	conv, err := reg.GetByURL(ctx, "https://conv.example/articles.atom")
	if err != nil {
		t.Fatalf("GetByURL: %v", err)
	}
	if conv.Type != models.SourceTypeAtom || conv.Language != models.DefaultLanguage || conv.CredibilityScore != models.DefaultCredibility {
		t.Fatalf("defaults not applied: %+v", conv)
	}

	nameless, err := reg.GetByURL(ctx, "https://nameless.example/feed")
	if err != nil {
		t.Fatalf("GetByURL: %v", err)
	}
	if nameless.Name != "nameless.example" || nameless.CredibilityScore != 100 || nameless.Language != "fr" {
		t.Fatalf("nameless = %+v", nameless)
	}
}

func TestImportAcceptsCuratedFeedList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := newRegistry(t)

	csvData := "url,comments,language,status\n" +
		"https://a.example/rss,Top stories,en,active\n" +
		"https://b.example/rss,Archive,de,inactive\n"
	res, err := NewImporter(reg, "").Import(ctx, strings.NewReader(csvData))
	if err != nil || res.Imported != 2 {
		t.Fatalf("Import = %+v, %v", res, err)
	}

	b, err := reg.GetByURL(ctx, "https://b.example/rss")
	if err != nil {
		t.Fatalf("GetByURL: %v", err)
	}
	if b.IsActive || b.Name != "b.example" || b.Language != "de" {
		t.Fatalf("b = %+v", b)
	}
}

func TestImportRequiresURLColumn(t *testing.T) {
	t.Parallel()

	_, err := NewImporter(newRegistry(t), "").Import(context.Background(), strings.NewReader("name,type\nWire,rss\n"))
	if err == nil {
		t.Fatalf("expected missing column error")
	}
}

func TestImportSourcesDownloadsMissingFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "name,url\nWire,https://wire.example/rss\n")
	}))
	defer srv.Close()

	reg := newRegistry(t)
	path := filepath.Join(t.TempDir(), "sources.csv")
	res, err := NewImporter(reg, srv.URL).ImportSources(ctx, path)
	if err != nil {
		t.Fatalf("ImportSources: %v", err)
	}
	if res.Imported != 1 {
		t.Fatalf("imported = %d", res.Imported)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("downloaded file not saved: %v", err)
	}
}

func TestImportSourcesMissingFileWithoutRemote(t *testing.T) {
	t.Parallel()

	_, err := NewImporter(newRegistry(t), "").ImportSources(context.Background(), filepath.Join(t.TempDir(), "absent.csv"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}
