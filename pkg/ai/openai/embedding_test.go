package openai

import "testing"

func TestFitDimensions(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		dim  int
		want []float32
	}{
		{name: "truncate", in: []float64{1, 2, 3}, dim: 2, want: []float32{1, 2}},
		{name: "pad", in: []float64{1}, dim: 3, want: []float32{1, 0, 0}},
		{name: "exact", in: []float64{0.5, 0.25}, dim: 2, want: []float32{0.5, 0.25}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fitDimensions(tt.in, tt.dim)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestBlankInputNeedsNoClient(t *testing.T) {
	c := NewGraphOpenAIClient(NewGraphOpenAIClientParams{EmbeddingDim: 4})
	v, err := c.GenerateEmbedding(t.Context(), []byte("   "))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(v) != 4 {
		t.Fatalf("expected zero vector of 4, got %v", v)
	}
	if _, err := c.GenerateCompletion(t.Context(), "hi"); err == nil {
		t.Fatal("expected error without chat client")
	}
}
