package bridge

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisker-sim/whisker-sim/sim"
	"github.com/whisker-sim/whisker-sim/sim/whisker"
)

// writeDNA persists a single-leaf tree over [0,inf)^3 with the given
// action and returns its path.
func writeDNA(t *testing.T, action sim.Action) string {
	t.Helper()
	inf := math.Inf(1)
	tree, err := whisker.NewTree(sim.MemoryRange{
		Upper: sim.Observation{AckEWMA: inf, SendEWMA: inf, RTTRatio: inf},
	}, action)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "policy.remy.dna")
	require.NoError(t, whisker.Save(path, tree))
	return path
}

// handleLedger enforces the ownership protocol the boundary requires:
// every loaded handle is freed exactly once, never twice, never left
// outstanding.
type handleLedger struct {
	t           *testing.T
	mu          sync.Mutex
	outstanding map[Handle]bool
	freed       map[Handle]int
}

func newHandleLedger(t *testing.T) *handleLedger {
	return &handleLedger{t: t, outstanding: map[Handle]bool{}, freed: map[Handle]int{}}
}

func (l *handleLedger) load(path string) Handle {
	l.t.Helper()
	h, err := Load(path)
	require.NoError(l.t, err)
	l.mu.Lock()
	defer l.mu.Unlock()
	require.False(l.t, l.outstanding[h], "handle %v issued twice while live", h)
	l.outstanding[h] = true
	return h
}

func (l *handleLedger) free(h Handle) {
	l.t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	require.True(l.t, l.outstanding[h], "freeing a handle that was never loaded")
	require.Zero(l.t, l.freed[h], "double free of handle %v", h)
	delete(l.outstanding, h)
	l.freed[h]++
	Free(h)
}

func (l *handleLedger) assertAllFreed() {
	l.t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(l.t, l.outstanding, "handles leaked")
	for h, n := range l.freed {
		assert.Equal(l.t, 1, n, "handle %v freed %d times", h, n)
	}
}

func TestGetAction_SingleLeaf(t *testing.T) {
	path := writeDNA(t, sim.Action{WindowIncrement: 1, WindowMultiple: 1.0, IntersendSeconds: 0.01})

	h, err := Load(path)
	require.NoError(t, err)
	defer Free(h)

	got, err := GetAction(h, 10, 10, 1.0, 5)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), got.NewWindow)
	assert.Equal(t, 0.01, got.IntersendSeconds)
}

func TestLoad_MissingFile(t *testing.T) {
	h, err := Load(filepath.Join(t.TempDir(), "absent.remy.dna"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Zero(t, h)
}

func TestLoad_MalformedArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.remy.dna")
	require.NoError(t, os.WriteFile(path, []byte("not a policy"), 0o644))

	h, err := Load(path)
	require.Error(t, err)
	var formatErr *sim.FormatError
	assert.ErrorAs(t, err, &formatErr)
	assert.Zero(t, h)
}

func TestGetAction_OutsideDomain(t *testing.T) {
	tree, err := whisker.NewTree(sim.MemoryRange{
		Upper: sim.Observation{AckEWMA: 100, SendEWMA: 100, RTTRatio: 4},
	}, whisker.DefaultAction)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "bounded.remy.dna")
	require.NoError(t, whisker.Save(path, tree))

	h, err := Load(path)
	require.NoError(t, err)
	defer Free(h)

	got, err := GetAction(h, 500, 10, 1.0, 5)
	require.Error(t, err)
	var domainErr *sim.DomainError
	assert.ErrorAs(t, err, &domainErr)
	assert.Zero(t, got, "error paths return the zero record")
}

// TestGetAction_ConcurrentReaders hammers one handle from many
// goroutines; the tree is immutable after load, so every reader must see
// the same answer.
func TestGetAction_ConcurrentReaders(t *testing.T) {
	path := writeDNA(t, sim.Action{WindowIncrement: 3, WindowMultiple: 0.5, IntersendSeconds: 0.002})
	h, err := Load(path)
	require.NoError(t, err)
	defer Free(h)

	want, err := GetAction(h, 20, 20, 1.5, 10)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				got, err := GetAction(h, 20, 20, 1.5, 10)
				if err != nil || got != want {
					t.Errorf("concurrent read diverged: %v %v", got, err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

// TestHandleLifecycle_FreeExactlyOnce runs several handles through the
// full ownership protocol under the ledger that a disciplined caller
// must maintain.
func TestHandleLifecycle_FreeExactlyOnce(t *testing.T) {
	ledger := newHandleLedger(t)
	path := writeDNA(t, whisker.DefaultAction)

	handles := make([]Handle, 4)
	for i := range handles {
		handles[i] = ledger.load(path)
	}
	// Handles are independent: freeing one leaves the rest usable.
	ledger.free(handles[0])
	for _, h := range handles[1:] {
		_, err := GetAction(h, 1, 1, 1, 1)
		require.NoError(t, err)
	}
	for _, h := range handles[1:] {
		ledger.free(h)
	}
	ledger.assertAllFreed()
}
