package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLoginBody(t *testing.T) {
	info := LoginInfo{
		Username:    "peppy",
		PasswordMD5: HashString("hunter2"),
		UTCOffset:   -5,
		ExePath:     "/opt/neosu/neosu",
		InstallID:   "install",
		DiskID:      "disk",
	}

	body := string(BuildLoginBody(info))
	lines := strings.Split(body, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "peppy", lines[0])
	assert.Equal(t, HashString("hunter2").String(), lines[1])
	assert.Equal(t, "", lines[3])

	fields := strings.Split(lines[2], "|")
	require.Len(t, fields, 5)
	assert.Equal(t, ClientVersion, fields[0])
	assert.Equal(t, "-5", fields[1])
	assert.Equal(t, "0", fields[2])
	assert.Equal(t, info.ClientHashes(), fields[3])
	assert.Equal(t, "0", fields[4])
}

func TestBuildLoginBodyOAuth(t *testing.T) {
	info := LoginInfo{
		Username:    "ignored",
		PasswordMD5: HashString("ignored"),
		OAuthToken:  "tok123",
		IsOAuth:     true,
		Version:     "b20240101",
		UTCOffset:   2,
	}

	body := string(BuildLoginBody(info))
	lines := strings.Split(body, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "$oauthtok123", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "b20240101|2|0|"))
	assert.True(t, strings.HasSuffix(body, "|0\n"))
}

func TestClientHashes(t *testing.T) {
	info := LoginInfo{ExePath: "/bin/neosu", InstallID: "a", DiskID: "b"}
	parts := strings.Split(info.ClientHashes(), ":")

	require.Len(t, parts, 6)
	assert.Equal(t, HashString("/bin/neosu").String(), parts[0])
	assert.Equal(t, "runningunderwine", parts[1])
	assert.Equal(t, HashString("runningunderwine").String(), parts[2])
	assert.Equal(t, HashString("a").String(), parts[3])
	assert.Equal(t, HashString("b").String(), parts[4])
	assert.Equal(t, "", parts[5])
}
