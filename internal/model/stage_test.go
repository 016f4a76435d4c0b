package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStage_Next(t *testing.T) {
	tests := []struct {
		stage Stage
		want  Stage
	}{
		{StageLocations, StageOrganizations},
		{StageOrganizations, StageOrganizationLocations},
		{StageOrganizationLocations, StageUsers},
		{StageUsers, StageUserGroups},
		{StageUserGroups, StageDone},
		{StageDone, StageDone},
		{Stage("unknown"), StageDone},
	}
	for _, tt := range tests {
		t.Run(tt.stage.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.stage.Next())
		})
	}
}

func TestUserRecord_GroupKey(t *testing.T) {
	u := UserRecord{ParentLocation: "Kenya", Location: "Nairobi"}
	assert.Equal(t, "KenyaNairobi", u.GroupKey())
}
