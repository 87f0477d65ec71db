package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"/", false},
		{"/a", false},
		{"/a/b.txt", false},
		{"", true},
		{"a/b", true},
		{"/a/", true},
		{"/a/../b", true},
		{"//a", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJoinAndSplit(t *testing.T) {
	assert.Equal(t, "/a", JoinPath("/", "a"))
	assert.Equal(t, "/a/b", JoinPath("/a", "b"))

	assert.Equal(t, "/", ParentPath("/"))
	assert.Equal(t, "/", ParentPath("/a"))
	assert.Equal(t, "/a", ParentPath("/a/b"))

	assert.Equal(t, "a", BaseName("/a"))
	assert.Equal(t, "b", BaseName("/a/b"))
	assert.Equal(t, "", BaseName("/"))
}

func TestChildName(t *testing.T) {
	tests := []struct {
		dir, path string
		name      string
		ok        bool
	}{
		{"/", "/a", "a", true},
		{"/", "/a/b", "", false},
		{"/", "/", "", false},
		{"/a", "/a/b", "b", true},
		{"/a", "/a/b/c", "", false},
		{"/a", "/ab", "", false},
		{"/a", "/a", "", false},
	}

	for _, tt := range tests {
		name, ok := ChildName(tt.dir, tt.path)
		assert.Equal(t, tt.ok, ok, "%s in %s", tt.path, tt.dir)
		assert.Equal(t, tt.name, name, "%s in %s", tt.path, tt.dir)
	}
}

func TestDisplayPath(t *testing.T) {
	assert.Equal(t, "/mnt/box/secret.txt", DisplayPath("/mnt/box", "/secret.txt"))
	assert.Equal(t, "/mnt/box/a/b", DisplayPath("/mnt/box/", "/a/b"))
	assert.Equal(t, "/mnt/box", DisplayPath("/mnt/box", "/"))
}
