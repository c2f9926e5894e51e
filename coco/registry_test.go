package coco

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	annFile := writeAnnotations(t, validAnnotations)
	reg := NewRegistry()

	require.NoError(t, reg.Register("defects_train", annFile, "/data/train"))
	require.NoError(t, reg.Register("defects_val", annFile, "/data/val"))

	// Duplicate and empty names are rejected.
	assert.Error(t, reg.Register("defects_train", annFile, "/elsewhere"))
	assert.Error(t, reg.Register("", annFile, "/data"))

	assert.Equal(t, []string{"defects_train", "defects_val"}, reg.Names())

	ds, err := reg.Get("defects_train")
	require.NoError(t, err)
	assert.Equal(t, 3, ds.NumClasses())

	// Lazy parse is cached: both fetches return the same dataset.
	again, err := reg.Get("defects_train")
	require.NoError(t, err)
	assert.Same(t, ds, again)

	_, err = reg.Get("unknown")
	assert.Error(t, err)
}

func TestRegistryGetCachesLoadError(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("broken", filepath.Join(t.TempDir(), "missing.json"), ""))

	_, err := reg.Get("broken")
	require.Error(t, err)
	_, err = reg.Get("broken")
	assert.Error(t, err)
}

func TestRegistryImagePath(t *testing.T) {
	annFile := writeAnnotations(t, validAnnotations)
	reg := NewRegistry()
	require.NoError(t, reg.Register("defects_train", annFile, "/data/train"))

	ds, err := reg.Get("defects_train")
	require.NoError(t, err)
	img, ok := ds.ImageByID(1)
	require.True(t, ok)

	path, err := reg.ImagePath("defects_train", img)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/train", "frame-1.jpg"), path)

	_, err = reg.ImagePath("unknown", img)
	assert.Error(t, err)
}

func TestRegistryUnregister(t *testing.T) {
	annFile := writeAnnotations(t, validAnnotations)
	reg := NewRegistry()
	require.NoError(t, reg.Register("defects_train", annFile, ""))

	reg.Unregister("defects_train")
	assert.Empty(t, reg.Names())
	_, err := reg.Get("defects_train")
	assert.Error(t, err)

	// Name is free again after unregistering.
	assert.NoError(t, reg.Register("defects_train", annFile, ""))
}
