// SPDX-License-Identifier: GPL-3.0-or-later
package imapsync

import (
	"testing"

	"github.com/driftmail/imapsync/domain"

	"github.com/stretchr/testify/assert"
)

func TestFindMissing(t *testing.T) {
	store := newFakeStore()
	store.raw["a"] = true
	r := newTestRun(store)

	missing, err := r.findMissing([]domain.MessageDescriptor{
		descriptor(1, "a"),
		descriptor(2, "b"),
		descriptor(3, "c"),
	})
	assert.NoError(t, err)
	assert.Len(t, missing, 2)
	assert.Equal(t, "b", missing[2].MessageID)
	assert.Equal(t, "c", missing[3].MessageID)
}

func TestFindMissingKeepsFirstDuplicate(t *testing.T) {
	r := newTestRun(newFakeStore())

	missing, err := r.findMissing([]domain.MessageDescriptor{
		descriptor(1, "a"),
		descriptor(2, "a"),
	})
	assert.NoError(t, err)
	assert.Len(t, missing, 1)
	assert.Equal(t, "a", missing[1].MessageID)
}

func TestFindMissingSkipsEmptyMessageIDs(t *testing.T) {
	r := newTestRun(newFakeStore())

	missing, err := r.findMissing([]domain.MessageDescriptor{
		descriptor(1, ""),
	})
	assert.NoError(t, err)
	assert.Empty(t, missing)
}
