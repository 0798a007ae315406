package widget_test

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/MegaGrindStone/chat-widget/internal/widget"
	"github.com/stretchr/testify/assert"
)

func TestSuggestionsDrawWithoutReplacement(t *testing.T) {
	prompts := []string{"majors", "housing", "dining", "parking", "libraries"}
	s := widget.NewSuggestions(prompts, rand.NewPCG(7, 7))

	for i := 0; i < 50; i++ {
		got := s.Draw(4)
		assert.Len(t, got, 4)

		seen := map[string]bool{}
		for _, p := range got {
			assert.Contains(t, prompts, p)
			assert.False(t, seen[p], "duplicate %q in %v", p, got)
			seen[p] = true
		}
	}
}

func TestSuggestionsPoolResets(t *testing.T) {
	s := widget.NewSuggestions([]string{"a", "b"}, rand.NewPCG(1, 1))

	got := s.Draw(5)
	assert.Len(t, got, 5)

	first := slices.Clone(got[:2])
	slices.Sort(first)
	assert.Equal(t, []string{"a", "b"}, first)

	second := slices.Clone(got[2:4])
	slices.Sort(second)
	assert.Equal(t, []string{"a", "b"}, second)
}

func TestSuggestionsEmpty(t *testing.T) {
	assert.Nil(t, widget.NewSuggestions(nil, nil).Draw(3))
	assert.Nil(t, widget.NewSuggestions([]string{"a"}, nil).Draw(0))
}

func TestTrailerExtractor(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantID   string
		wantBody string
	}{
		{name: "trailer", text: "Answer.\nresponseID: abc-123\n", wantID: "abc-123", wantBody: "Answer."},
		{name: "crlf", text: "Line one\r\nLine two\r\nresponseID: x\r\n", wantID: "x", wantBody: "Line one\r\nLine two"},
		{name: "only trailer", text: "responseID: solo", wantID: "solo", wantBody: ""},
		{name: "no trailer", text: "Just an answer\n", wantID: "", wantBody: "Just an answer\n"},
		{name: "trailer not last", text: "responseID: early\nmore text", wantID: "", wantBody: "responseID: early\nmore text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, body := widget.TrailerExtractor(tt.text)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}
