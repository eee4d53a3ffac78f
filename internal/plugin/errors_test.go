// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package plugin_test

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberhost/ember/internal/plugin"
)

func TestHasCode(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name string
		err  error
		code string
	}{
		{"manifest invalid", plugin.ErrManifestInvalid("plugins/echo", cause), plugin.CodeManifestInvalid},
		{"load failed", plugin.ErrLoadFailed("echo", cause), plugin.CodeLoadFailed},
		{"init failed", plugin.ErrInitFailed("echo", cause), plugin.CodeInitFailed},
		{"destroy failed", plugin.ErrDestroyFailed("echo", cause), plugin.CodeDestroyFailed},
		{"hook timeout", plugin.ErrHookTimeout("echo", "init", 5000), plugin.CodeHookTimeout},
		{"hook missing", plugin.ErrHookMissing("echo", "init"), plugin.CodeHookMissing},
		{"not found", plugin.ErrPluginNotFound("echo"), plugin.CodePluginNotFound},
		{"conflict", plugin.ErrResourceConflict("command", "roll", "dice"), plugin.CodeResourceConflict},
		{"state io", plugin.ErrStateIO("save", cause), plugin.CodeStateIO},
		{"install failed", plugin.ErrInstallFailed("echo", cause), plugin.CodeInstallFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, plugin.HasCode(tt.err, tt.code))
			assert.False(t, plugin.HasCode(tt.err, "SOME_OTHER_CODE"))
		})
	}
}

func TestHasCode_NonOopsError(t *testing.T) {
	assert.False(t, plugin.HasCode(nil, plugin.CodeLoadFailed))
	assert.False(t, plugin.HasCode(errors.New("plain"), plugin.CodeLoadFailed))
}

func TestErrHookTimeout_Context(t *testing.T) {
	err := plugin.ErrHookTimeout("echo", "init", 5000)

	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok)
	ctx := oopsErr.Context()
	assert.Equal(t, "echo", ctx["plugin"])
	assert.Equal(t, "init", ctx["hook"])
	assert.Equal(t, int64(5000), ctx["timeout_ms"])
	assert.Contains(t, err.Error(), "exceeded 5000ms budget")
}

func TestErrResourceConflict_Context(t *testing.T) {
	err := plugin.ErrResourceConflict("command", "roll", "dice")

	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok)
	ctx := oopsErr.Context()
	assert.Equal(t, "command", ctx["kind"])
	assert.Equal(t, "roll", ctx["key"])
	assert.Equal(t, "dice", ctx["owner"])
}

func TestErrWrapping_PreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := plugin.ErrStateIO("save", cause)

	assert.True(t, errors.Is(err, cause))
}
