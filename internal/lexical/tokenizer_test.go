package lexical

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "lowercases and stems",
			text: "Running Databases",
			want: []string{"run", "databas"},
		},
		{
			name: "drops stop words",
			text: "the cat and the dog",
			want: []string{"cat", "dog"},
		},
		{
			name: "drops pure numbers",
			text: "version 42 released",
			want: []string{"version", "releas"},
		},
		{
			name: "keeps alphanumeric mixes",
			text: "utf8 encoding",
			want: []string{"utf8", "encod"},
		},
		{
			name: "keeps hyphenated tokens",
			text: "cross-encoder scoring",
			want: []string{"cross-encod", "score"},
		},
		{
			name: "empty input",
			text: "",
			want: []string{},
		},
		{
			name: "punctuation only",
			text: "!!! ... ???",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.text))
		})
	}
}

func TestBuildIndex(t *testing.T) {
	index := BuildIndex([]string{
		"databases store data",
		"the database stores more data",
	})

	// "databases" and "database" stem together, as do "store"/"stores".
	assert.Equal(t, 2, index.TermFrequencies["databas"])
	assert.Equal(t, 2, index.TermFrequencies["store"])
	assert.Equal(t, 2, index.TermFrequencies["data"])
	assert.NotContains(t, index.TermFrequencies, "the")
}

func TestBuildIndex_Empty(t *testing.T) {
	index := BuildIndex(nil)
	assert.NotNil(t, index)
	assert.Empty(t, index.TermFrequencies)
}
