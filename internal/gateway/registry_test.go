package gateway

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reg(conn Conn, seq uint64) *Registration {
	return &Registration{ID: fmt.Sprintf("websocket-%d", seq), Conn: conn, seq: seq}
}

func TestRegistry_Lifecycle(t *testing.T) {
	r := NewRegistry()
	conn := newFakeConn("c1")

	assert.ErrorIs(t, r.RegisterFor(conn, reg(conn, 1)), ErrSessionClosed)

	assert.True(t, r.Open(conn))
	assert.False(t, r.Open(conn))
	assert.True(t, r.IsOpen(conn))

	for _, seq := range []uint64{3, 1, 2} {
		require.NoError(t, r.RegisterFor(conn, reg(conn, seq)))
	}
	assert.Error(t, r.RegisterFor(conn, reg(conn, 2)))

	ids := func(regs []*Registration) []string {
		out := make([]string, 0, len(regs))
		for _, r := range regs {
			out = append(out, r.ID)
		}
		return out
	}
	assert.Equal(t, []string{"websocket-1", "websocket-2", "websocket-3"}, ids(r.AllFor(conn)))

	second := func(reg *Registration) bool { return reg.ID == "websocket-2" }
	assert.Equal(t, []string{"websocket-2"}, ids(r.RemoveMatching(conn, second)))
	assert.Empty(t, r.RemoveMatching(conn, second))

	assert.Equal(t, []string{"websocket-1", "websocket-3"}, ids(r.RemoveAll(conn)))
	assert.Empty(t, r.RemoveAll(conn))
	assert.False(t, r.IsOpen(conn))
	assert.Nil(t, r.AllFor(conn))
	assert.ErrorIs(t, r.RegisterFor(conn, reg(conn, 4)), ErrSessionClosed)
	assert.Zero(t, r.Sessions())
}

func TestRegistry_SessionsAreIndependent(t *testing.T) {
	r := NewRegistry()
	a, b := newFakeConn("a"), newFakeConn("b")
	r.Open(a)
	r.Open(b)

	require.NoError(t, r.RegisterFor(a, reg(a, 1)))
	require.NoError(t, r.RegisterFor(b, reg(b, 2)))

	r.RemoveAll(a)
	assert.Len(t, r.AllFor(b), 1)
	assert.Equal(t, 1, r.Sessions())
}

// Every registration racing a RemoveAll must either be returned by it or be
// refused, never silently kept.
func TestRegistry_RegisterRacingRemoveAll(t *testing.T) {
	for round := 0; round < 50; round++ {
		r := NewRegistry()
		conn := newFakeConn("c")
		r.Open(conn)

		const n = 32
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted = make(map[string]bool)
		)
		start := make(chan struct{})
		for i := 1; i <= n; i++ {
			wg.Add(1)
			go func(seq uint64) {
				defer wg.Done()
				<-start
				rg := reg(conn, seq)
				err := r.RegisterFor(conn, rg)
				if err == nil {
					mu.Lock()
					accepted[rg.ID] = true
					mu.Unlock()
					return
				}
				assert.True(t, errors.Is(err, ErrSessionClosed))
			}(uint64(i))
		}

		var drained []*Registration
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			drained = r.RemoveAll(conn)
		}()
		close(start)
		wg.Wait()

		got := make(map[string]bool)
		for _, rg := range drained {
			got[rg.ID] = true
		}
		assert.Equal(t, accepted, got)
		assert.Nil(t, r.AllFor(conn))
	}
}
