package graph_test

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relationcore/rebacd/pkg/graph"
)

func mustObject(t *testing.T, ns, id string) graph.Object {
	t.Helper()
	o, err := graph.NewObject(ns, id)
	require.NoError(t, err)
	return o
}

func mustSet(t *testing.T, ns, id, rel string) graph.Set {
	t.Helper()
	s, err := graph.NewSet(ns, id, rel)
	require.NoError(t, err)
	return s
}

func limit(n int) *int { return &n }

// S1 — simple positive and negative.
func TestS1SimplePositiveAndNegative(t *testing.T) {
	g := graph.New()

	alice := mustObject(t, "user", "alice")
	bob := mustObject(t, "user", "bob")
	charlie := mustObject(t, "user", "charlie")
	fooRead := mustSet(t, "application", "foo", "read")
	barRead := mustSet(t, "application", "bar", "read")

	g.Insert(alice, fooRead)
	g.Insert(bob, barRead)

	assert.True(t, g.Check(alice, fooRead, nil))
	assert.False(t, g.Check(alice, barRead, nil))
	assert.False(t, g.Check(charlie, fooRead, nil))
}

// S2 — remove.
func TestS2Remove(t *testing.T) {
	g := graph.New()

	alice := mustObject(t, "user", "alice")
	fooRead := mustSet(t, "application", "foo", "read")

	g.Insert(alice, fooRead)
	g.Remove(alice, fooRead)

	assert.False(t, g.Check(alice, fooRead, nil))
}

// S3 — source wildcard: universe of users.
func TestS3SourceWildcard(t *testing.T) {
	g := graph.New()

	wildUser := mustObject(t, "user", graph.WildcardID)
	fooRead := mustSet(t, "application", "foo", "read")
	barRead := mustSet(t, "application", "bar", "read")

	g.Insert(wildUser, fooRead)

	for _, id := range []string{"alice", "bob", "anyone"} {
		x := mustObject(t, "user", id)
		assert.True(t, g.Check(x, fooRead, nil), "id %s should be granted via source wildcard", id)
		assert.False(t, g.Check(x, barRead, nil), "id %s must not be granted on an unrelated set", id)
	}
}

// S4 — destination wildcard: class-wide grant.
func TestS4DestinationWildcard(t *testing.T) {
	g := graph.New()

	alice := mustObject(t, "user", "alice")
	bob := mustObject(t, "user", "bob")
	wildRead := mustSet(t, "application", graph.WildcardID, "read")

	g.Insert(alice, wildRead)

	y := mustSet(t, "application", "anything", "read")
	assert.True(t, g.Check(alice, y, nil))
	assert.False(t, g.Check(bob, y, nil))
}

// S5 — userset rewrite.
func TestS5UsersetRewrite(t *testing.T) {
	g := graph.New()

	alice := mustObject(t, "user", "alice")
	adminsMember := mustSet(t, "group", "admins", "member")
	fooAdmin := mustSet(t, "application", "foo", "admin")

	g.Insert(alice, adminsMember)
	g.Insert(adminsMember, fooAdmin)

	assert.True(t, g.Check(alice, fooAdmin, nil))
	assert.False(t, g.Check(alice, fooAdmin, limit(1)))
	assert.True(t, g.Check(alice, fooAdmin, limit(2)))
}

// S6 — expand with chain.
func TestS6ExpandWithChain(t *testing.T) {
	g := graph.New()

	alice := mustObject(t, "user", "alice")
	adminsMember := mustSet(t, "group", "admins", "member")
	fooAdmin := mustSet(t, "application", "foo", "admin")

	g.Insert(alice, adminsMember)
	g.Insert(adminsMember, fooAdmin)

	results := g.Expand(fooAdmin)
	require.Len(t, results, 1)
	assert.Equal(t, alice, results[0].Object)
	assert.Equal(t, []graph.Set{adminsMember}, results[0].Path)
}

// S7 — snapshot round-trip.
func TestS7SnapshotRoundTrip(t *testing.T) {
	g := graph.New()

	wildUser := mustObject(t, "user", graph.WildcardID)
	fooRead := mustSet(t, "application", "foo", "read")
	alice := mustObject(t, "user", "alice")
	adminsMember := mustSet(t, "group", "admins", "member")
	fooAdmin := mustSet(t, "application", "foo", "admin")

	g.Insert(wildUser, fooRead)
	g.Insert(alice, adminsMember)
	g.Insert(adminsMember, fooAdmin)

	var buf bytes.Buffer
	require.NoError(t, g.WriteSavefile(&buf))

	loaded := graph.ReadSavefile(&buf)

	bob := mustObject(t, "user", "bob")
	assert.True(t, loaded.Check(bob, fooRead, nil))
	assert.True(t, loaded.Check(alice, fooAdmin, nil))
	assert.False(t, loaded.Check(alice, fooAdmin, limit(1)))

	results := loaded.Expand(fooAdmin)
	require.Len(t, results, 1)
	assert.Equal(t, alice, results[0].Object)
}

func TestSnapshotFormatExact(t *testing.T) {
	g := graph.New()
	g.Insert(mustObject(t, "user", "alice"), mustSet(t, "application", "foo", "read"))

	var buf bytes.Buffer
	require.NoError(t, g.WriteSavefile(&buf))

	want := "\n[application:*]\nread = [  ]\n" +
		"\n[application:foo]\nread = [ user:alice ]\n" +
		"\n[user:*]\n" +
		"\n[user:alice]\n"
	assert.Equal(t, want, buf.String())
}

func TestSnapshotRendersSelfSources(t *testing.T) {
	g := graph.New()
	g.Insert(mustObject(t, "document", "doc1"), mustSet(t, "document", "doc1", "owner"))

	var buf bytes.Buffer
	require.NoError(t, g.WriteSavefile(&buf))
	assert.Contains(t, buf.String(), "owner = [ self ]")

	loaded := graph.ReadSavefile(&buf)
	assert.True(t, loaded.Has(mustObject(t, "document", "doc1"), mustSet(t, "document", "doc1", "owner")))
}

func TestSnapshotDropsScaffoldingButKeepsWildcardGrants(t *testing.T) {
	g := graph.New()
	g.Insert(mustObject(t, "user", graph.WildcardID), mustSet(t, "application", "foo", "read"))
	g.Insert(mustObject(t, "user", "alice"), mustSet(t, "application", "bar", "read"))

	var buf bytes.Buffer
	require.NoError(t, g.WriteSavefile(&buf))
	out := buf.String()

	// The explicit universe-of-users grant survives; the rederivable
	// same-namespace scaffolding sources do not.
	assert.Contains(t, out, "[application:foo]\nread = [ user:* ]")
	assert.NotContains(t, out, "application:*#read")

	loaded := graph.ReadSavefile(&buf)
	assert.True(t, loaded.Check(mustObject(t, "user", "anyone"), mustSet(t, "application", "foo", "read"), nil))
	assert.False(t, loaded.Check(mustObject(t, "user", "anyone"), mustSet(t, "application", "bar", "read"), nil))
}

func TestReadSavefileSkipsMalformedLines(t *testing.T) {
	input := "\n[application:foo]\n" +
		"garbage line without structure\n" +
		"read = [ user:alice ]\n" +
		"= [ broken ]\n"
	g := graph.ReadSavefile(strings.NewReader(input))

	assert.True(t, g.Has(mustObject(t, "user", "alice"), mustSet(t, "application", "foo", "read")))
	assert.Equal(t, 4, g.VertexCount())
}

func TestInsertHasRoundTrip(t *testing.T) {
	g := graph.New()
	alice := mustObject(t, "user", "alice")
	fooRead := mustSet(t, "application", "foo", "read")

	g.Insert(alice, fooRead)
	assert.True(t, g.Has(alice, fooRead))
}

func TestRemoveUndoesInsert(t *testing.T) {
	g := graph.New()
	alice := mustObject(t, "user", "alice")
	fooRead := mustSet(t, "application", "foo", "read")

	g.Insert(alice, fooRead)
	g.Remove(alice, fooRead)
	assert.False(t, g.Has(alice, fooRead))
}

func TestIdempotence(t *testing.T) {
	g := graph.New()
	alice := mustObject(t, "user", "alice")
	fooRead := mustSet(t, "application", "foo", "read")

	g.Insert(alice, fooRead)
	g.Insert(alice, fooRead)
	assert.True(t, g.Has(alice, fooRead))

	g.Remove(alice, fooRead)
	g.Remove(alice, fooRead)
	assert.False(t, g.Has(alice, fooRead))
}

func TestCheckIsReflexiveFree(t *testing.T) {
	g := graph.New()
	adminsMember := mustSet(t, "group", "admins", "member")
	assert.False(t, g.Check(adminsMember, adminsMember, nil))
}

func TestCheckIsSupersetOfHas(t *testing.T) {
	g := graph.New()
	alice := mustObject(t, "user", "alice")
	fooRead := mustSet(t, "application", "foo", "read")

	g.Insert(alice, fooRead)
	require.True(t, g.Has(alice, fooRead))
	assert.True(t, g.Check(alice, fooRead, nil))
}

func TestDepthLimitSoundness(t *testing.T) {
	g := graph.New()
	alice := mustObject(t, "user", "alice")
	adminsMember := mustSet(t, "group", "admins", "member")
	fooAdmin := mustSet(t, "application", "foo", "admin")

	g.Insert(alice, adminsMember)
	g.Insert(adminsMember, fooAdmin)

	if g.Check(alice, fooAdmin, limit(2)) {
		assert.True(t, g.Check(alice, fooAdmin, nil))
	}
}

func TestExpandCompletenessAndNoDuplicates(t *testing.T) {
	g := graph.New()

	alice := mustObject(t, "user", "alice")
	bob := mustObject(t, "user", "bob")
	adminsMember := mustSet(t, "group", "admins", "member")
	ownersMember := mustSet(t, "group", "owners", "member")
	fooAdmin := mustSet(t, "application", "foo", "admin")

	g.Insert(alice, adminsMember)
	g.Insert(alice, ownersMember)
	g.Insert(bob, ownersMember)
	g.Insert(adminsMember, fooAdmin)
	g.Insert(ownersMember, fooAdmin)

	results := g.Expand(fooAdmin)

	seen := map[graph.Object]bool{}
	for _, r := range results {
		assert.False(t, seen[r.Object], "object %v emitted more than once", r.Object)
		seen[r.Object] = true
		assert.True(t, g.Check(r.Object, fooAdmin, nil))
	}
	assert.True(t, seen[alice])
	assert.True(t, seen[bob])
}

func TestHasMissingEndpointsYieldFalse(t *testing.T) {
	g := graph.New()
	alice := mustObject(t, "user", "alice")
	fooRead := mustSet(t, "application", "foo", "read")
	assert.False(t, g.Has(alice, fooRead))
	assert.False(t, g.Check(alice, fooRead, nil))
	assert.Empty(t, g.Expand(fooRead))
}

func TestRemoveOnAbsentEndpointsIsNoop(t *testing.T) {
	g := graph.New()
	alice := mustObject(t, "user", "alice")
	fooRead := mustSet(t, "application", "foo", "read")
	require.NotPanics(t, func() { g.Remove(alice, fooRead) })
}

func TestConcurrentMutatorsAndReaders(t *testing.T) {
	g := graph.New()
	fooRead := mustSet(t, "application", "foo", "read")

	ids := make([]graph.Object, 32)
	for i := range ids {
		ids[i] = mustObject(t, "user", fmt.Sprintf("u%02d", i))
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(2)
		go func(o graph.Object) {
			defer wg.Done()
			g.Insert(o, fooRead)
		}(id)
		go func(o graph.Object) {
			defer wg.Done()
			// Interleaved with the insert above; either answer is
			// acceptable mid-flight, it only must not race or panic.
			g.Check(o, fooRead, nil)
			g.Expand(fooRead)
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		assert.True(t, g.Has(id, fooRead))
	}

	for _, id := range ids[:16] {
		wg.Add(1)
		go func(o graph.Object) {
			defer wg.Done()
			g.Remove(o, fooRead)
		}(id)
	}
	wg.Wait()

	for _, id := range ids[:16] {
		assert.False(t, g.Has(id, fooRead))
	}
	for _, id := range ids[16:] {
		assert.True(t, g.Has(id, fooRead))
	}
}

func TestInvalidIdentifiersRejected(t *testing.T) {
	_, err := graph.NewObject("", "alice")
	assert.ErrorIs(t, err, graph.ErrEmptyIdentifier)

	_, err = graph.NewSet("application", "foo:bar", "read")
	assert.ErrorIs(t, err, graph.ErrReservedCharacter)
}
