package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orion struct{}

type resonanceField struct{}

// Package-level registration, the way a type would be annotated at
// definition time.
var (
	annotations = New()

	orionOwner = MustDefine[orion](annotations,
		S("origin", String("Genesis10000+")),
		S("signature", Tuple(1, 0, 1)),
		S(TrackedName, String(TrackedValue)),
	)
)

func TestOwnerOf(t *testing.T) {
	assert.Equal(t, "github.com/roach88/sigil/internal/registry.orion", OwnerOf[orion]())
	assert.Equal(t, OwnerOf[orion](), OwnerOf[*orion](), "pointers resolve to the element type")
	assert.Equal(t, "int", OwnerOf[int]())
	assert.Equal(t, "[]string", OwnerOf[[]string]())
}

func TestMustDefineAtInit(t *testing.T) {
	assert.Equal(t, OwnerOf[orion](), orionOwner)

	v, err := annotations.Lookup(orionOwner, "origin")
	require.NoError(t, err)
	assert.True(t, v.Equal(String("Genesis10000+")))
	assert.True(t, annotations.Tracked(orionOwner))

	var names []string
	for d := range annotations.ListFor(orionOwner) {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"origin", "signature", TrackedName}, names)
}

func TestDefineStopsAtConflict(t *testing.T) {
	r := New()
	owner, err := Define[resonanceField](r,
		S("years", Number(37)),
		S("years", Number(38)),
		S("never", Number(1)),
	)
	require.Error(t, err)
	assert.True(t, IsDuplicate(err))
	assert.Contains(t, err.Error(), owner)

	_, err = r.Lookup(owner, "never")
	assert.True(t, IsUnknown(err))
}

func TestMustDefinePanicsOnConflict(t *testing.T) {
	r := New()
	MustDefine[resonanceField](r, S("years", Number(37)))
	assert.Panics(t, func() {
		MustDefine[resonanceField](r, S("years", Number(1)))
	})
}
