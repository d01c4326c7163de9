package audit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relationcore/rebacd/pkg/audit"
)

func newLedger(t *testing.T) *audit.Ledger {
	t.Helper()
	l, err := audit.NewLedger(audit.Config{Enabled: true, Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLogAndQueryRoundTrip(t *testing.T) {
	l := newLedger(t)

	require.NoError(t, l.Log(audit.Event{
		Type:      audit.EventGrant,
		Principal: "user:alice",
		Object:    "document:report1#write",
		Success:   true,
	}))
	require.NoError(t, l.Log(audit.Event{
		Type:      audit.EventCheck,
		Principal: "user:bob",
		Object:    "document:report1#write",
		Success:   false,
	}))

	events, err := l.Query(audit.Query{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.EventGrant, events[0].Type)
	assert.Equal(t, audit.EventCheck, events[1].Type)
}

func TestQueryFiltersByPrincipalAndType(t *testing.T) {
	l := newLedger(t)

	require.NoError(t, l.Log(audit.Event{Type: audit.EventGrant, Principal: "user:alice", Success: true}))
	require.NoError(t, l.Log(audit.Event{Type: audit.EventRevoke, Principal: "user:alice", Success: true}))
	require.NoError(t, l.Log(audit.Event{Type: audit.EventGrant, Principal: "user:bob", Success: true}))

	events, err := l.Query(audit.Query{Principal: "user:alice"})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = l.Query(audit.Query{Type: audit.EventGrant})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestQueryRespectsLimit(t *testing.T) {
	l := newLedger(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Log(audit.Event{Type: audit.EventCheck, Success: true}))
	}

	events, err := l.Query(audit.Query{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestQueryRespectsTimeRange(t *testing.T) {
	l := newLedger(t)
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, l.Log(audit.Event{Type: audit.EventCheck, Timestamp: past}))
	require.NoError(t, l.Log(audit.Event{Type: audit.EventCheck}))

	events, err := l.Query(audit.Query{Start: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestDisabledLedgerIsNoop(t *testing.T) {
	l, err := audit.NewLedger(audit.Config{Enabled: false})
	require.NoError(t, err)

	require.NoError(t, l.Log(audit.Event{Type: audit.EventGrant}))
	events, err := l.Query(audit.Query{})
	require.NoError(t, err)
	assert.Nil(t, events)
	require.NoError(t, l.Close())
}

func TestPruneRemovesOldRecords(t *testing.T) {
	l, err := audit.NewLedger(audit.Config{Enabled: true, Dir: t.TempDir(), RetentionDays: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	old := time.Now().AddDate(0, 0, -5)
	require.NoError(t, l.Log(audit.Event{Type: audit.EventCheck, Timestamp: old}))
	require.NoError(t, l.Log(audit.Event{Type: audit.EventCheck}))

	require.NoError(t, l.Prune())

	events, err := l.Query(audit.Query{})
	require.NoError(t, err)
	require.Len(t, events, 1)
}
