package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const detailFixture = `<!DOCTYPE html>
<html>
<body>
<div id="page-content">
  <h1 id="toc2"><span>They Hunger</span></h1>
  <div class="actualcontent_wrap">
    <div class="new_leftside">
      <table>
        <tr><td>Author</td><td> Neil Manke </td></tr>
        <tr><td>2000-03-14</td><td>ignored</td></tr>
        <tr><td>Posted</td><td>2012-01-01</td></tr>
        <tr><td>BSP</td><td>th_ep1_00</td></tr>
      </table>
    </div>
  </div>
  <div class="dl">
    <div class="collapsible-block-content">
      <a href="http://files.example/they_hunger.zip">mirror 1</a>
      <a href="/local--files/th/readme.txt">readme</a>
      <a href="/local--files/th/th_ep2.7Z">mirror 2</a>
      <a href="http://files.example/th_ep3.rar?dl=1">mirror 3</a>
    </div>
  </div>
  <h2 id="toc3">Description</h2>
  <p>A horror campaign.</p>
  <ul><li>three episodes</li></ul>
  <h2 id="toc4">Screenshots</h2>
  <div class="gallery-box">
    <a href="http://img.example/1.jpg"><img src="t1.jpg"></a>
    <a href="/local--files/th/2.jpg"><img src="t2.jpg"></a>
  </div>
  <h3 id="toc5">Additional info</h3>
  <p>Requires Sven Co-op 5.</p>
  <h3 id="toc6">Download</h3>
  <p>after</p>
</div>
</body>
</html>`

func TestParseDetail(t *testing.T) {
	record := ParseDetail(detailFixture, "http://scmapdb.wikidot.com/map:they-hunger")

	if record.Title != "They Hunger" {
		t.Fatalf("unexpected title: %q", record.Title)
	}
	if record.Author != "Neil Manke" {
		t.Fatalf("unexpected author: %q", record.Author)
	}
	if record.OriginalRelease != "2000-03-14" {
		t.Fatalf("unexpected release: %q", record.OriginalRelease)
	}
	if record.PostedDate != "2012-01-01" {
		t.Fatalf("unexpected posted date: %q", record.PostedDate)
	}
	if record.ArchiveFilename != "th_ep1_00" {
		t.Fatalf("unexpected bsp filename: %q", record.ArchiveFilename)
	}

	wantDownloads := []string{
		"http://files.example/they_hunger.zip",
		"http://scmapdb.wikidot.com/local--files/th/th_ep2.7Z",
		"http://files.example/th_ep3.rar?dl=1",
	}
	if strings.Join(record.DownloadURLs, "|") != strings.Join(wantDownloads, "|") {
		t.Fatalf("unexpected downloads: %v", record.DownloadURLs)
	}

	wantShots := []string{"http://img.example/1.jpg", "http://scmapdb.wikidot.com/local--files/th/2.jpg"}
	if strings.Join(record.ScreenshotURLs, "|") != strings.Join(wantShots, "|") {
		t.Fatalf("unexpected screenshots: %v", record.ScreenshotURLs)
	}

	if record.Description != `<p>A horror campaign.</p><ul><li>three episodes</li></ul>` {
		t.Fatalf("unexpected description: %q", record.Description)
	}
	if !strings.Contains(record.AdditionalInfo, "Requires Sven Co-op 5.") {
		t.Fatalf("additional info missing its body: %q", record.AdditionalInfo)
	}
	if strings.Contains(record.AdditionalInfo, "after") {
		t.Fatalf("additional info ran past its terminator: %q", record.AdditionalInfo)
	}
}

func TestParseDetailWithoutAnchors(t *testing.T) {
	record := ParseDetail(`<html><body><p>nothing here</p></body></html>`, "http://scmapdb.wikidot.com/x")

	if record.Title != "" || record.Description != "" || record.AdditionalInfo != "" {
		t.Fatalf("expected empty strings, got %+v", record)
	}
	for _, v := range []string{record.Author, record.OriginalRelease, record.PostedDate, record.ArchiveFilename} {
		if v != Unknown {
			t.Fatalf("expected %q sentinel, got %q", Unknown, v)
		}
	}
	if record.DownloadURLs == nil || len(record.DownloadURLs) != 0 {
		t.Fatalf("expected empty download list, got %v", record.DownloadURLs)
	}
	if record.ScreenshotURLs == nil || len(record.ScreenshotURLs) != 0 {
		t.Fatalf("expected empty screenshot list, got %v", record.ScreenshotURLs)
	}
}

func TestFragmentRunsToEndWithoutTerminator(t *testing.T) {
	record := ParseDetail(`<div><h2 id="toc3">Description</h2><p>one</p><p>two</p></div>`, "")
	if record.Description != "<p>one</p><p>two</p>" {
		t.Fatalf("unexpected description: %q", record.Description)
	}
}

func TestScrapeFetchFailureDegrades(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	scraper := NewDetailScraper(NewFetcher(NewClient(5*time.Second), t.TempDir(), nil, nil), nil)
	record, err := scraper.Scrape(context.Background(), server.URL+"/map:gone")
	if err == nil {
		t.Fatalf("expected fetch error")
	}
	if record.Author != Unknown || len(record.DownloadURLs) != 0 {
		t.Fatalf("expected default record, got %+v", record)
	}
}
