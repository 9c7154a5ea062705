package cip

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/localos/nuru/pkg/cache"
)

func TestCanonicalizeOrderIndependent(t *testing.T) {
	a := map[string]string{"zone": "3", "path": "fast", "industry": "Logistics"}
	b := map[string]string{"industry": "Logistics", "path": "fast", "zone": "3"}

	ca, ha, err := Canonicalize(a)
	require.NoError(t, err)
	cb, hb, err := Canonicalize(b)
	require.NoError(t, err)

	require.Equal(t, string(ca), string(cb), "canonical form must ignore field order")
	require.Equal(t, ha, hb, "identity hash must ignore field order")
}

func TestCanonicalizeDistinguishesValues(t *testing.T) {
	_, ha, err := Canonicalize(map[string]string{"path": "fast"})
	require.NoError(t, err)
	_, hb, err := Canonicalize(map[string]string{"path": "slow"})
	require.NoError(t, err)
	require.NotEqual(t, ha, hb)
}

func TestCanonicalizeNil(t *testing.T) {
	c, h, err := Canonicalize(nil)
	require.NoError(t, err)
	require.Equal(t, "{}", string(c))
	require.NotEmpty(t, h)
}

// fakePersistence collapses rows by identity like the real SQL upsert.
type fakePersistence struct {
	rows map[string]*Row
	err  error
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{rows: make(map[string]*Row)}
}

func (f *fakePersistence) UpsertPattern(_ context.Context, e Entry, hash string, _ []byte) error {
	if f.err != nil {
		return f.err
	}
	key := string(e.Type) + "|" + e.Industry + "|" + e.Segment + "|" + hash
	if r, ok := f.rows[key]; ok {
		r.Occurrences++
		r.LastSeen = time.Now()
		return nil
	}
	f.rows[key] = &Row{
		Type: e.Type, Industry: e.Industry, Segment: e.Segment,
		Data: e.Data, Occurrences: 1,
		FirstSeen: time.Now(), LastSeen: time.Now(),
	}
	return nil
}

func (f *fakePersistence) QueryPatterns(_ context.Context, industry string, minOccurrence, limit int) ([]Row, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []Row
	for _, r := range f.rows {
		if r.Industry == industry && r.Occurrences >= int64(minOccurrence) && len(out) < limit {
			out = append(out, *r)
		}
	}
	return out, nil
}

func TestRecordCollapsesIdenticalSignatures(t *testing.T) {
	fp := newFakePersistence()
	e := NewEngine(fp, nil, zap.NewNop())
	ctx := context.Background()

	entry := Entry{
		Type:     TypeConversion,
		Industry: "Logistics",
		Segment:  "logistics_ops_manager_urgent_buyer",
		Data:     map[string]string{"zone": "2", "path": "fast"},
	}
	// Same data submitted three times, twice with shuffled field order.
	require.NoError(t, e.Record(ctx, entry))
	entry.Data = map[string]string{"path": "fast", "zone": "2"}
	require.NoError(t, e.Record(ctx, entry))
	require.NoError(t, e.Record(ctx, entry))

	require.Len(t, fp.rows, 1, "identical identities must collapse into one row")
	for _, r := range fp.rows {
		require.EqualValues(t, 3, r.Occurrences)
	}
}

func TestRecordRequiresType(t *testing.T) {
	e := NewEngine(newFakePersistence(), nil, zap.NewNop())
	require.Error(t, e.Record(context.Background(), Entry{Industry: "X"}))
}

func TestPromptFragmentCached(t *testing.T) {
	fp := newFakePersistence()
	e := NewEngine(fp, cache.NewMemory(time.Minute), zap.NewNop())
	ctx := context.Background()

	entry := Entry{Type: TypeConversion, Industry: "Logistics", Data: map[string]string{"path": "fast"}}
	require.NoError(t, e.Record(ctx, entry))
	require.NoError(t, e.Record(ctx, entry))

	frag := e.PromptFragment(ctx, "Logistics")
	require.Contains(t, frag, "Logistics")
	require.Contains(t, frag, "conversion")

	// Break the backing store; the cached fragment must still serve.
	fp.err = context.DeadlineExceeded
	require.Equal(t, frag, e.PromptFragment(ctx, "Logistics"))
}

func TestPromptFragmentEmptyIndustry(t *testing.T) {
	e := NewEngine(newFakePersistence(), nil, zap.NewNop())
	require.Empty(t, e.PromptFragment(context.Background(), ""))
}
