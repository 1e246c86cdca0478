//go:build !production

package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/grindstone-hq/grindstone/internal/application/engine"
	"github.com/grindstone-hq/grindstone/internal/domain/shared"
)

func TestAdmin_Passphrase(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("open sesame"), bcrypt.MinCost)
	require.NoError(t, err)
	h := newHarness(t,
		"GRINDSTONE_FEATURE_ADMIN", "true",
		"GRINDSTONE_ADMIN_PASSPHRASE_HASH", string(hash),
	)

	_, err = h.run(t, "wrong\n", "admin", "xp", "250")
	assert.ErrorIs(t, err, ErrBadPassphrase)

	_, err = h.run(t, "", "admin", "xp", "250")
	assert.ErrorIs(t, err, ErrBadPassphrase)

	out, err := h.run(t, "open sesame\n", "admin", "xp", "250")
	require.NoError(t, err)
	assert.Contains(t, out, "+250 XP")

	st := decodeJSON[engine.StateView](t, h.mustRun(t, "status", "-o", "json"))
	assert.Equal(t, 250, st.TotalXP)
}

func TestAdmin_Commands(t *testing.T) {
	h := newHarness(t, "GRINDSTONE_FEATURE_ADMIN", "true")

	res := decodeJSON[engine.ApplyResult](t, h.mustRun(t, "admin", "level", "4", "-o", "json"))
	assert.True(t, res.LeveledUp)
	require.NotNil(t, res.NewLevel)
	assert.Equal(t, 4, *res.NewLevel)

	assert.Contains(t, h.mustRun(t, "admin", "demote"), "Demoted to level 3.")

	_, err := h.run(t, "", "admin", "level", "0")
	assert.ErrorIs(t, err, shared.ErrInvalidLevel)

	_, err = h.run(t, "", "admin", "xp", "lots")
	assert.Error(t, err)

	_, err = h.run(t, "", "admin", "reset")
	assert.Error(t, err)

	assert.Contains(t, h.mustRun(t, "admin", "reset", "--yes"), "All state reset.")
	st := decodeJSON[engine.StateView](t, h.mustRun(t, "status", "-o", "json"))
	assert.Zero(t, st.TotalXP)
	assert.Equal(t, 1, st.Level)
}

func TestAdmin_DisabledByFeature(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "", "admin", "demote")
	assert.ErrorIs(t, err, shared.ErrAdminDisabled)
}
