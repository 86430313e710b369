package evloop

import (
	"fmt"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
	"testing"
)

func TestInterestValuesArePassedVerbatim(t *testing.T) {
	assert.Equal(t, uint32(unix.EPOLLIN), uint32(Readable))
	assert.Equal(t, uint32(unix.EPOLLOUT), uint32(Writable))
	assert.Equal(t, uint32(unix.EPOLLET), uint32(EdgeTriggered))
	assert.Equal(t, uint32(unix.EPOLLRDHUP), uint32(PeerClosed))
}

func TestInterestString(t *testing.T) {
	tests := []struct {
		interest Interest
		expected string
	}{
		{0, "none"},
		{Readable, "readable"},
		{Readable | Writable, "readable|writable"},
		{Readable | EdgeTriggered, "readable|edge"},
		{Error | Hangup | PeerClosed, "peer_closed|error|hangup"},
		{Writable | Interest(1 << 20), fmt.Sprintf("writable|0x%x", 1<<20)},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, test.interest.String())
	}
}

func TestInterestHas(t *testing.T) {
	interest := Readable | Writable | EdgeTriggered
	assert.True(t, interest.Has(Readable))
	assert.True(t, interest.Has(Readable|Writable))
	assert.False(t, interest.Has(Readable|OneShot))
	assert.False(t, interest.Has(0))
}
