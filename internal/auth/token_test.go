// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_IsIdempotent(t *testing.T) {
	store := NewTokenStore("")
	first, err := store.Setup()
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := store.Setup()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSetup_WithSeedReturnsSeed(t *testing.T) {
	store := NewTokenStore("preset-token")
	token, err := store.Setup()
	require.NoError(t, err)
	assert.Equal(t, "preset-token", token)
}

func TestValidate(t *testing.T) {
	store := NewTokenStore("")
	token, err := store.Setup()
	require.NoError(t, err)

	assert.True(t, store.Validate(token))
	assert.False(t, store.Validate("wrong"))
	assert.False(t, store.Validate(""))
}

func TestValidate_BeforeSetupNeverValidates(t *testing.T) {
	store := NewTokenStore("")
	assert.False(t, store.Validate("anything"))
}
