// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"
	"testing"

	"github.com/muesli/termenv"

	"github.com/jeranaias/promptbuilder/internal/conversation"
)

func TestNewThemeWithProfile_Ascii(t *testing.T) {
	theme := NewThemeWithProfile(termenv.Ascii)
	if theme.IsDark {
		t.Error("Ascii theme should not probe the background")
	}
	if theme.ColorProfile != termenv.Ascii {
		t.Errorf("ColorProfile = %v, want Ascii", theme.ColorProfile)
	}
}

func TestTheme_Role(t *testing.T) {
	theme := NewThemeWithProfile(termenv.Ascii)
	tests := []struct {
		role conversation.Role
		want string
	}{
		{conversation.RoleSystem, "system"},
		{conversation.RoleUser, "user"},
		{conversation.RoleAssistant, "assistant"},
	}
	for _, tt := range tests {
		got := theme.Role(tt.role).Render(tt.role.String())
		if !strings.Contains(got, tt.want) {
			t.Errorf("Role(%s).Render = %q, want it to contain %q", tt.role, got, tt.want)
		}
	}
}

func TestStatusIndicators_Distinct(t *testing.T) {
	if StatusIndicators.Included == StatusIndicators.Excluded {
		t.Error("included and excluded markers must differ")
	}
}
