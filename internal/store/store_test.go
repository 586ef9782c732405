package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	_, err := s.Get(ctx, KeyRoster)
	assert.ErrorIs(t, err, ErrNotFound)

	buf := []byte(`"en"`)
	require.NoError(t, s.Put(ctx, KeyLanguage, buf))
	buf[1] = 'x'

	got, err := s.Get(ctx, KeyLanguage)
	require.NoError(t, err)
	assert.Equal(t, `"en"`, string(got), "stored value must not alias the caller's slice")

	require.NoError(t, s.Put(ctx, KeyLanguage, []byte(`"hi"`)))
	got, err = s.Get(ctx, KeyLanguage)
	require.NoError(t, err)
	assert.Equal(t, `"hi"`, string(got))
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	type entry struct {
		Route string `json:"route"`
		Eta   int    `json:"eta"`
	}
	require.NoError(t, PutJSON(ctx, s, KeyPredictions, map[string]entry{"Jaipur Exp": {Route: "Jaipur Exp", Eta: 12}}))

	var out map[string]entry
	require.NoError(t, GetJSON(ctx, s, KeyPredictions, &out))
	assert.Equal(t, 12, out["Jaipur Exp"].Eta)

	require.NoError(t, s.Put(ctx, KeyQueue, []byte("not json")))
	var q []entry
	assert.Error(t, GetJSON(ctx, s, KeyQueue, &q))

	assert.ErrorIs(t, GetJSON(ctx, s, KeyRoster, &q), ErrNotFound)
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "graminbus.db")

	s, err := OpenBolt(path)
	require.NoError(t, err)

	_, err = s.Get(ctx, KeyQueue)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, PutJSON(ctx, s, KeyQueue, []map[string]string{{"busId": "SH-01"}}))
	require.NoError(t, s.Put(ctx, KeyLanguage, []byte(`"hi"`)))
	require.NoError(t, s.Close())

	reopened, err := OpenBolt(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	var queue []map[string]string
	require.NoError(t, GetJSON(ctx, reopened, KeyQueue, &queue))
	require.Len(t, queue, 1)
	assert.Equal(t, "SH-01", queue[0]["busId"])

	got, err := reopened.Get(ctx, KeyLanguage)
	require.NoError(t, err)
	assert.Equal(t, `"hi"`, string(got))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, reopened.Put(cancelled, KeyLanguage, []byte(`"en"`)), context.Canceled)
}

func TestOpenDriver(t *testing.T) {
	s, err := Open(context.Background(), "memory", "")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	path := filepath.Join(t.TempDir(), "graminbus.db")
	s, err = Open(context.Background(), "bolt", path)
	require.NoError(t, err)
	assert.IsType(t, &Bolt{}, s)
	require.NoError(t, s.Close())

	_, err = Open(context.Background(), "bolt", "")
	assert.Error(t, err)

	_, err = Open(context.Background(), "redis", "")
	assert.ErrorContains(t, err, "unknown store driver")
}

func TestWithDBName(t *testing.T) {
	testCases := []struct {
		name string
		dsn  string
		db   string
		want string
	}{
		{name: "replace path", dsn: "postgres://u@h:5432/postgres?sslmode=disable", db: "graminbus", want: "postgres://u@h:5432/graminbus?sslmode=disable"},
		{name: "missing scheme", dsn: "u@h:5432/x", db: "/device", want: "postgres://u@h:5432/device"},
		{name: "empty name keeps dsn", dsn: "postgres://h/a", db: "", want: "postgres://h/a"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := WithDBName(tc.dsn, tc.db)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := WithDBName("", "x")
	assert.Error(t, err)
	_, err = WithDBName("mysql://h/a", "x")
	assert.Error(t, err)
}
