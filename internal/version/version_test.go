package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromBuildInfo(t *testing.T) {
	tests := []struct {
		name        string
		info        debug.BuildInfo
		wantVersion string
		wantCommit  string
	}{
		{
			name: "module version",
			info: debug.BuildInfo{
				Main: debug.Module{Version: "v1.4.0"},
			},
			wantVersion: "v1.4.0",
		},
		{
			name: "vcs settings",
			info: debug.BuildInfo{
				Main: debug.Module{Version: "(devel)"},
				Settings: []debug.BuildSetting{
					{Key: "vcs.revision", Value: "0123456789abcdef"},
					{Key: "vcs.time", Value: "2026-02-03T10:00:00Z"},
					{Key: "vcs.modified", Value: "true"},
				},
			},
			wantVersion: "dev-20260203",
			wantCommit:  "0123456-dirty",
		},
		{
			name: "short revision",
			info: debug.BuildInfo{
				Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc"}},
			},
			wantCommit: "abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldVersion, oldCommit := Version, Commit
			defer func() { Version, Commit = oldVersion, oldCommit }()
			Version, Commit = "", ""

			fromBuildInfo(&tt.info)

			assert.Equal(t, tt.wantVersion, Version)
			assert.Equal(t, tt.wantCommit, Commit)
		})
	}
}

func TestGet(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.Version, "version should be set after init")
	assert.NotEmpty(t, info.Commit, "commit should be set after init")
	assert.NotEmpty(t, info.GoVersion)
	assert.NotEmpty(t, info.Platform)
}
