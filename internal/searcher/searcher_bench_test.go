package searcher

import (
	"context"
	"fmt"
	"testing"

	"github.com/basonpark/ether-guru/internal/storage"
)

func benchmarkBackend(n int) *mockBackend {
	results := make([]storage.TextResult, n)
	for i := range results {
		results[i] = textResult(fmt.Sprintf("https://docs.example.org/p%d", i), i, float64(n-i))
	}
	return &mockBackend{results: results}
}

func BenchmarkSearch_NoCache(b *testing.B) {
	s, err := NewSearcher(Options{Text: benchmarkBackend(50)})
	if err != nil {
		b.Fatal(err)
	}
	req := SearchRequest{Query: "storage layout", Limit: 50}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Search(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSearch_CacheHit(b *testing.B) {
	s, err := NewSearcher(Options{Text: benchmarkBackend(50), CacheSize: 16})
	if err != nil {
		b.Fatal(err)
	}
	req := SearchRequest{Query: "storage layout", Limit: 50, UseCache: true}
	if _, err := s.Search(context.Background(), req); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Search(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}
