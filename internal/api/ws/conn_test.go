package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientConn_DropsStaleSnapshots(t *testing.T) {
	tests := []struct {
		name string
		seqs []uint64
		want []bool
	}{
		{
			name: "in order",
			seqs: []uint64{1, 2, 3},
			want: []bool{true, true, true},
		},
		{
			name: "late older snapshot",
			seqs: []uint64{1, 3, 2, 4},
			want: []bool{true, true, false, true},
		},
		{
			name: "repeated sequence",
			seqs: []uint64{5, 5},
			want: []bool{true, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &clientConn{}
			got := make([]bool, 0, len(tt.seqs))
			for _, seq := range tt.seqs {
				got = append(got, c.advance(seq))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
