package validation

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		want     string
		wantErr  bool
	}{
		{"valid", "alice", "alice", false},
		{"trimmed to valid", "  bo  ", "bo", false},
		{"two runes after trim", " ab ", "ab", false},
		{"one rune after trim", "  a ", "", true},
		{"empty", "   ", "", true},
		{"fifty runes", strings.Repeat("x", 50), strings.Repeat("x", 50), false},
		{"fifty one runes", strings.Repeat("x", 51), "", true},
		{"multibyte counted as runes", strings.Repeat("é", 50), strings.Repeat("é", 50), false},
		{"control chars stripped", "al\x00ice", "alice", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeUsername(tt.username)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeMessage(t *testing.T) {
	msg, err := NormalizeMessage("  louder please ", 200)
	require.NoError(t, err)
	assert.Equal(t, "louder please", msg)

	_, err = NormalizeMessage("   ", 200)
	assert.Error(t, err)

	_, err = NormalizeMessage(strings.Repeat("m", 201), 200)
	assert.Error(t, err)

	_, err = NormalizeMessage(strings.Repeat("m", 200), 200)
	assert.NoError(t, err)
}

func TestValidateMessageID(t *testing.T) {
	assert.NoError(t, ValidateMessageID(""))
	assert.NoError(t, ValidateMessageID("msg_0a1b2c3d4e5f"))
	assert.Error(t, ValidateMessageID(" msg"))
	assert.Error(t, ValidateMessageID("msg/1"))
	assert.Error(t, ValidateMessageID(strings.Repeat("m", MessageIDMaxLen+1)))
}

func TestValidateVideoID(t *testing.T) {
	assert.NoError(t, ValidateVideoID("v2"))
	assert.NoError(t, ValidateVideoID("catalog:movie-01.mp4"))
	assert.Error(t, ValidateVideoID(""))
	assert.Error(t, ValidateVideoID("has space"))
	assert.Error(t, ValidateVideoID(strings.Repeat("v", VideoIDMaxLen+1)))
}

func TestValidatePosition(t *testing.T) {
	assert.NoError(t, ValidatePosition(0))
	assert.NoError(t, ValidatePosition(120.5))
	assert.Error(t, ValidatePosition(-0.1))
	assert.Error(t, ValidatePosition(math.NaN()))
	assert.Error(t, ValidatePosition(math.Inf(1)))
}

func TestValidateRewind(t *testing.T) {
	assert.NoError(t, ValidateRewind(10, 3600))
	assert.NoError(t, ValidateRewind(3600, 3600))
	assert.Error(t, ValidateRewind(0, 3600))
	assert.Error(t, ValidateRewind(-5, 3600))
	assert.Error(t, ValidateRewind(3601, 3600))
	assert.Error(t, ValidateRewind(math.NaN(), 3600))
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"http://catalog.local/api", false},
		{"https://catalog.example.com", false},
		{"", true},
		{"ftp://catalog", true},
		{"http://", true},
	}
	for _, tt := range tests {
		if err := ValidateURL(tt.url); (err != nil) != tt.wantErr {
			t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
	}
}
