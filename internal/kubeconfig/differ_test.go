package kubeconfig

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventTypes(evs []ContextEvent) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type.String()+":"+ev.Name)
	}
	return out
}

func TestDiffer_EndToEnd(t *testing.T) {
	d := NewDiffer()
	var seen []ContextEvent
	d.OnEvent(func(ev ContextEvent) { seen = append(seen, ev) })

	evs := d.Update(newTestConfig(testContext{name: "dev", server: "https://a"}))
	assert.Equal(t, []string{"add:dev"}, eventTypes(evs))
	assert.Equal(t, "https://a", evs[0].Descriptor.Server)

	evs = d.Update(newTestConfig(testContext{name: "dev", server: "https://b"}))
	assert.Equal(t, []string{"update:dev"}, eventTypes(evs))
	assert.Equal(t, "https://b", evs[0].Descriptor.Server)

	evs = d.Update(newTestConfig())
	assert.Equal(t, []string{"delete:dev"}, eventTypes(evs))
	assert.Equal(t, "https://b", evs[0].Descriptor.Server)

	assert.Equal(t, []string{"add:dev", "update:dev", "delete:dev"}, eventTypes(seen))
	assert.Empty(t, d.Contexts())
}

func TestDiffer_NoEventsForUnchanged(t *testing.T) {
	d := NewDiffer()
	cfg := newTestConfig(
		testContext{name: "a", server: "https://a"},
		testContext{name: "b", server: "https://b"},
	)

	require.Len(t, d.Update(cfg), 2)
	assert.Empty(t, d.Update(cfg))

	// A freshly parsed but identical config is still a no-op.
	assert.Empty(t, d.Update(newTestConfig(
		testContext{name: "a", server: "https://a"},
		testContext{name: "b", server: "https://b"},
	)))
}

func TestDiffer_AddsAndUpdatesPrecedeDeletes(t *testing.T) {
	d := NewDiffer()
	d.Update(DescriptorList{
		NewDescriptor("old1", nil, nil, ""),
		NewDescriptor("keep", nil, nil, ""),
		NewDescriptor("old2", nil, nil, ""),
	})

	evs := d.Update(DescriptorList{
		NewDescriptor("new2", nil, nil, ""),
		NewDescriptor("keep", nil, nil, "changed"),
		NewDescriptor("new1", nil, nil, ""),
	})

	assert.Equal(t, []string{"add:new2", "update:keep", "add:new1", "delete:old1", "delete:old2"}, eventTypes(evs))
	assert.Equal(t, []string{"keep", "new2", "new1"}, d.Contexts())
}

func TestDiffer_DuplicateNamesInInput(t *testing.T) {
	d := NewDiffer()
	evs := d.Update(DescriptorList{
		NewDescriptor("a", nil, nil, "first"),
		NewDescriptor("a", nil, nil, "second"),
	})

	require.Len(t, evs, 1)
	assert.Equal(t, "first", evs[0].Descriptor.Namespace)
}

func TestDiffer_NilConfig(t *testing.T) {
	d := NewDiffer()
	d.Update(DescriptorList{NewDescriptor("a", nil, nil, "")})

	evs := d.Update(nil)
	assert.Equal(t, []string{"delete:a"}, eventTypes(evs))
}

func TestDiffer_PanicsOnLostDescriptor(t *testing.T) {
	d := NewDiffer()
	d.Update(DescriptorList{NewDescriptor("a", nil, nil, "")})

	// Corrupt the snapshot the way a bug would.
	d.known["a"] = nil

	assert.Panics(t, func() { d.Update(DescriptorList{}) })
}

func TestDiffer_Descriptor(t *testing.T) {
	d := NewDiffer()
	d.Update(DescriptorList{NewDescriptor("a", nil, nil, "ns")})

	desc, ok := d.Descriptor("a")
	require.True(t, ok)
	assert.Equal(t, "ns", desc.Namespace)

	_, ok = d.Descriptor("b")
	assert.False(t, ok)
}

// TestDiffer_RandomTransitions checks, for random pairs of context sets A and
// B, that update(B) after update(A) yields exactly the set differences and
// that repeating update(B) yields nothing.
func TestDiffer_RandomTransitions(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	universe := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	randomSet := func() map[string]string {
		out := map[string]string{}
		for _, n := range universe {
			if rng.Intn(2) == 0 {
				out[n] = fmt.Sprintf("https://%s-%d", n, rng.Intn(2))
			}
		}
		return out
	}
	toConfig := func(set map[string]string) *Config {
		var ctxs []testContext
		for n, server := range set {
			ctxs = append(ctxs, testContext{name: n, server: server})
		}
		return newTestConfig(ctxs...)
	}

	for i := 0; i < 200; i++ {
		a, b := randomSet(), randomSet()
		d := NewDiffer()
		d.Update(toConfig(a))

		var wantAdd, wantUpdate, wantDelete, gotAdd, gotUpdate, gotDelete []string
		for n, server := range b {
			prev, ok := a[n]
			switch {
			case !ok:
				wantAdd = append(wantAdd, n)
			case prev != server:
				wantUpdate = append(wantUpdate, n)
			}
		}
		for n := range a {
			if _, ok := b[n]; !ok {
				wantDelete = append(wantDelete, n)
			}
		}

		evs := d.Update(toConfig(b))
		seenDelete := false
		for _, ev := range evs {
			switch ev.Type {
			case ContextAdded:
				require.False(t, seenDelete, "add after delete")
				gotAdd = append(gotAdd, ev.Name)
			case ContextUpdated:
				require.False(t, seenDelete, "update after delete")
				gotUpdate = append(gotUpdate, ev.Name)
			case ContextDeleted:
				seenDelete = true
				gotDelete = append(gotDelete, ev.Name)
			}
		}

		for _, s := range [][]string{wantAdd, wantUpdate, wantDelete, gotAdd, gotUpdate, gotDelete} {
			sort.Strings(s)
		}
		assert.Equal(t, wantAdd, gotAdd)
		assert.Equal(t, wantUpdate, gotUpdate)
		assert.Equal(t, wantDelete, gotDelete)
		assert.Empty(t, d.Update(toConfig(b)))
	}
}
