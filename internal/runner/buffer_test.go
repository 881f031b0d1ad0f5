package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoundedBuffer(t *testing.T) {
	tests := []struct {
		name          string
		limit         int
		writes        []string
		wantOutput    string
		wantTruncated bool
	}{
		{
			name:       "under limit",
			limit:      16,
			writes:     []string{"hello ", "world"},
			wantOutput: "hello world",
		},
		{
			name:       "exactly at limit",
			limit:      5,
			writes:     []string{"hello"},
			wantOutput: "hello",
		},
		{
			name:          "keeps earliest bytes",
			limit:         4,
			writes:        []string{"ab", "cdef", "gh"},
			wantOutput:    "abcd\n... [output truncated: 4 bytes dropped]\n",
			wantTruncated: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBoundedBuffer(tt.limit, nil)
			for _, w := range tt.writes {
				n, err := b.Write([]byte(w))
				assert.NoError(t, err)
				assert.Equal(t, len(w), n)
			}
			assert.Equal(t, tt.wantOutput, b.String())
			assert.Equal(t, tt.wantTruncated, b.Truncated())
		})
	}
}

func TestBoundedBuffer_SinkSplitsAcrossWrites(t *testing.T) {
	var lines []string
	b := newBoundedBuffer(1024, func(line string) { lines = append(lines, line) })

	_, _ = b.Write([]byte("par"))
	_, _ = b.Write([]byte("tial\r\nnext\n"))
	_, _ = b.Write([]byte("tail"))
	b.flush()

	assert.Equal(t, []string{"partial", "next", "tail"}, lines)
}
