package protocol

import (
	"strconv"
	"strings"
)

// ClientVersion is the osu! stable build string sent at login.
const ClientVersion = "b20250702.1"

// adaptersPlaceholder stands in for the network adapter list in client hashes.
const adaptersPlaceholder = "runningunderwine"

// LoginInfo carries everything that goes into the login request body.
type LoginInfo struct {
	Username    string
	PasswordMD5 MD5Hash
	OAuthToken  string
	IsOAuth     bool

	Version   string
	UTCOffset int

	ExePath   string
	InstallID string
	DiskID    string
}

// ClientHashes returns exe_md5:adapters:adapters_md5:install_md5:disk_md5:
func (l *LoginInfo) ClientHashes() string {
	var sb strings.Builder
	sb.WriteString(HashString(l.ExePath).String())
	sb.WriteByte(':')
	sb.WriteString(adaptersPlaceholder)
	sb.WriteByte(':')
	sb.WriteString(HashString(adaptersPlaceholder).String())
	sb.WriteByte(':')
	sb.WriteString(HashString(l.InstallID).String())
	sb.WriteByte(':')
	sb.WriteString(HashString(l.DiskID).String())
	sb.WriteByte(':')
	return sb.String()
}

// BuildLoginBody renders the plain-text login request:
//
//	username\npw_md5\nversion|utc_offset|display_city|client_hashes|pm_private\n
//
// With OAuth the first line is "$oauth<token>" and the password line is
// omitted. City display is always off and PMs from strangers are allowed.
func BuildLoginBody(l LoginInfo) []byte {
	version := l.Version
	if version == "" {
		version = ClientVersion
	}

	var sb strings.Builder
	if l.IsOAuth {
		sb.WriteString("$oauth")
		sb.WriteString(l.OAuthToken)
		sb.WriteByte('\n')
	} else {
		sb.WriteString(l.Username)
		sb.WriteByte('\n')
		sb.WriteString(l.PasswordMD5.String())
		sb.WriteByte('\n')
	}

	sb.WriteString(version)
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(l.UTCOffset))
	sb.WriteString("|0|")
	sb.WriteString(l.ClientHashes())
	sb.WriteString("|0\n")
	return []byte(sb.String())
}
