package camera

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethan/nanit-relay/pkg/protocol"
)

func TestPendingIDsMonotonicFromOne(t *testing.T) {
	p := newPendingTable()
	for want := uint32(1); want <= 5; want++ {
		id, _ := p.track()
		assert.Equal(t, want, id)
	}
	assert.Equal(t, 5, p.size())
}

func TestPendingResolve(t *testing.T) {
	p := newPendingTable()
	id, ch := p.track()

	resp := &protocol.Response{RequestID: id, RequestType: protocol.RequestGetStatus, StatusCode: 200}
	require.True(t, p.resolve(resp))

	got, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, resp, got)
	assert.Equal(t, 0, p.size())

	// A second resolve for the same ID is unmatched.
	assert.False(t, p.resolve(resp))
}

func TestPendingResolveUnknownID(t *testing.T) {
	p := newPendingTable()
	p.track()
	assert.False(t, p.resolve(&protocol.Response{RequestID: 99}))
	assert.Equal(t, 1, p.size())
}

func TestPendingDrop(t *testing.T) {
	p := newPendingTable()
	id, _ := p.track()
	p.drop(id)
	assert.Equal(t, 0, p.size())
	assert.False(t, p.resolve(&protocol.Response{RequestID: id}))
}

func TestPendingCancelAll(t *testing.T) {
	p := newPendingTable()
	_, ch1 := p.track()
	_, ch2 := p.track()

	assert.Equal(t, 2, p.cancelAll())
	assert.Equal(t, 0, p.size())

	_, ok := <-ch1
	assert.False(t, ok)
	_, ok = <-ch2
	assert.False(t, ok)

	// IDs keep counting after a cancel, no reuse.
	id, _ := p.track()
	assert.Equal(t, uint32(3), id)
}

func TestPendingIDWraparoundSkipsZero(t *testing.T) {
	p := newPendingTable()
	p.nextID = ^uint32(0)

	id, _ := p.track()
	assert.Equal(t, ^uint32(0), id)

	id, _ = p.track()
	assert.Equal(t, uint32(1), id)
}
