package catalog

import (
	"fmt"
	"reflect"
	"testing"

	"scmap-manager/scraper"
)

func sampleEntries() []scraper.CatalogEntry {
	return []scraper.CatalogEntry{
		{Title: "Half-Life", PageURL: "http://x/hl", Tags: "campaign singleplayer"},
		{Title: "Map", PageURL: "http://x/map", Tags: "ctf small"},
		{Title: "They Hunger", PageURL: "http://x/th", Tags: "Campaign horror"},
		{Title: "Sven Co-op Ö", PageURL: "http://x/sc", Tags: "survival"},
	}
}

func titlesOf(entries []scraper.CatalogEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Title)
	}
	return out
}

func isSubsequence(sub, full []scraper.CatalogEntry) bool {
	i := 0
	for _, e := range full {
		if i < len(sub) && sub[i] == e {
			i++
		}
	}
	return i == len(sub)
}

func TestSearch(t *testing.T) {
	entries := sampleEntries()

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"Half-Life", "Map", "They Hunger", "Sven Co-op Ö"}},
		{"   \t ", []string{"Half-Life", "Map", "They Hunger", "Sven Co-op Ö"}},
		{"campaign", []string{"Half-Life", "They Hunger"}},
		{"CAMPAIGN", []string{"Half-Life", "They Hunger"}},
		{"zzz ctf", []string{"Map"}},
		{"hunger survival", []string{"They Hunger", "Sven Co-op Ö"}},
		{"ö", []string{"Sven Co-op Ö"}},
		{"nothing", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := Search(tt.query, entries)
			if !reflect.DeepEqual(titlesOf(got), tt.want) {
				t.Fatalf("Search(%q) = %v, want %v", tt.query, titlesOf(got), tt.want)
			}
			if !isSubsequence(got, entries) {
				t.Fatalf("Search(%q) is not an ordered subsequence of the index", tt.query)
			}
		})
	}
}

func TestSearchCaseInsensitive(t *testing.T) {
	entries := sampleEntries()
	for _, q := range []string{"map", "hunger", "Co-Op", "small"} {
		got := Search(q, entries)
		if !reflect.DeepEqual(got, Search(swapCase(q), entries)) {
			t.Fatalf("search for %q differs from %q", q, swapCase(q))
		}
		if len(got) == 0 {
			t.Fatalf("expected matches for %q", q)
		}
	}
}

func swapCase(s string) string {
	out := []rune(s)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z':
			out[i] = r - 'a' + 'A'
		case r >= 'A' && r <= 'Z':
			out[i] = r - 'A' + 'a'
		}
	}
	return string(out)
}

func TestSearchBlankReturnsCopy(t *testing.T) {
	entries := sampleEntries()
	got := Search("", entries)
	got[0].Title = "changed"
	if entries[0].Title != "Half-Life" {
		t.Fatal("blank search must not alias the index")
	}
}

func makeEntries(n int) []scraper.CatalogEntry {
	out := make([]scraper.CatalogEntry, n)
	for i := range out {
		out[i] = scraper.CatalogEntry{Title: fmt.Sprintf("map%03d", i)}
	}
	return out
}

func TestPaginateReconstructs(t *testing.T) {
	for _, n := range []int{0, 1, 59, 60, 61, 120} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			results := makeEntries(n)
			pages := TotalPages(n, DefaultPageSize)

			var rebuilt []scraper.CatalogEntry
			for p := 1; p <= pages; p++ {
				chunk := Paginate(results, p, DefaultPageSize)
				if len(chunk) > DefaultPageSize {
					t.Fatalf("page %d holds %d entries", p, len(chunk))
				}
				rebuilt = append(rebuilt, chunk...)
			}
			if len(rebuilt) != len(results) {
				t.Fatalf("rebuilt %d entries, want %d", len(rebuilt), len(results))
			}
			for i := range results {
				if rebuilt[i] != results[i] {
					t.Fatalf("entry %d differs after pagination", i)
				}
			}
			if extra := Paginate(results, pages+1, DefaultPageSize); len(extra) != 0 {
				t.Fatalf("page past the end returned %d entries", len(extra))
			}
		})
	}
}

func TestTotalPages(t *testing.T) {
	tests := []struct {
		n, size, want int
	}{
		{0, 60, 1},
		{1, 60, 1},
		{60, 60, 1},
		{61, 60, 2},
		{120, 60, 2},
		{121, 60, 3},
		{5, 0, 1},
	}
	for _, tt := range tests {
		if got := TotalPages(tt.n, tt.size); got != tt.want {
			t.Errorf("TotalPages(%d, %d) = %d, want %d", tt.n, tt.size, got, tt.want)
		}
	}
}
