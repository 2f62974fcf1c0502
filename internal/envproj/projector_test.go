package envproj

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilbox/veil/internal/backend"
)

// fakeResolver serves canned values and errors.
type fakeResolver struct {
	vals map[string]string
	errs map[string]error
}

func (r *fakeResolver) Resolve(ctx context.Context, name string) ([]byte, error) {
	if err, ok := r.errs[name]; ok {
		return nil, err
	}
	if v, ok := r.vals[name]; ok {
		return []byte(v), nil
	}
	return nil, backend.ErrNotConfigured
}

func TestProject(t *testing.T) {
	resolver := &fakeResolver{vals: map[string]string{
		"API_KEY":     "sk-1",
		"DB_PASSWORD": "hunter2",
	}}
	env := NewMapEnviron(nil)

	err := New(resolver, env).Project(context.Background(), []string{"API_KEY", "DB_PASSWORD"})
	require.NoError(t, err)

	v, ok := env.Lookup("API_KEY")
	require.True(t, ok)
	assert.Equal(t, "sk-1", v)
	v, ok = env.Lookup("DB_PASSWORD")
	require.True(t, ok)
	assert.Equal(t, "hunter2", v)
}

func TestProjectPartialFailureNamesExactly(t *testing.T) {
	resolver := &fakeResolver{
		vals: map[string]string{"A": "1", "C": "3"},
		errs: map[string]error{"B": backend.ErrUnavailable},
	}
	env := NewMapEnviron(nil)

	err := New(resolver, env).Project(context.Background(), []string{"A", "B", "C"})

	var partial *PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{"B"}, partial.Failed)
	assert.ErrorIs(t, partial.Errs["B"], backend.ErrUnavailable)

	// A and C were still bound; one failure does not unwind the rest.
	v, ok := env.Lookup("A")
	require.True(t, ok)
	assert.Equal(t, "1", v)
	v, ok = env.Lookup("C")
	require.True(t, ok)
	assert.Equal(t, "3", v)

	_, ok = env.Lookup("B")
	assert.False(t, ok)
}

func TestProjectSkipsExistingByDefault(t *testing.T) {
	resolver := &fakeResolver{vals: map[string]string{"API_KEY": "from-backend"}}
	env := NewMapEnviron([]string{"API_KEY=operator-override"})

	err := New(resolver, env).Project(context.Background(), []string{"API_KEY"})
	require.NoError(t, err)

	v, _ := env.Lookup("API_KEY")
	assert.Equal(t, "operator-override", v, "existing entry must not be masked")
}

func TestProjectOverwrite(t *testing.T) {
	resolver := &fakeResolver{vals: map[string]string{"API_KEY": "from-backend"}}
	env := NewMapEnviron([]string{"API_KEY=stale"})

	p := New(resolver, env)
	p.Overwrite = true
	require.NoError(t, p.Project(context.Background(), []string{"API_KEY"}))

	v, _ := env.Lookup("API_KEY")
	assert.Equal(t, "from-backend", v)
}

func TestProjectNotConfigured(t *testing.T) {
	env := NewMapEnviron(nil)
	err := New(&fakeResolver{}, env).Project(context.Background(), []string{"MISSING"})

	var partial *PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{"MISSING"}, partial.Failed)
	assert.ErrorIs(t, partial.Errs["MISSING"], backend.ErrNotConfigured)
}

func TestPartialFailureErrorMessageHasNamesOnly(t *testing.T) {
	err := &PartialFailureError{
		Failed: []string{"A", "B"},
		Errs: map[string]error{
			"A": errors.New("backend down"),
			"B": errors.New("backend down"),
		},
	}
	assert.Equal(t, "failed to project 2 secret(s): A, B", err.Error())
}

func TestMapEnviron(t *testing.T) {
	env := NewMapEnviron([]string{"PATH=/usr/bin", "HOME=/home/u", "malformed-no-equals"})

	v, ok := env.Lookup("PATH")
	require.True(t, ok)
	assert.Equal(t, "/usr/bin", v)

	_, ok = env.Lookup("malformed-no-equals")
	assert.False(t, ok)

	require.NoError(t, env.Set("NEW", "x"))
	assert.Equal(t, []string{"HOME=/home/u", "NEW=x", "PATH=/usr/bin"}, env.Environ())
}
