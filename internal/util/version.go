package util

// Version is sent as x-mcosu-ver and in the login body. Overridden at link
// time with -ldflags "-X github.com/neosu-project/neosu/internal/util.Version=...".
var Version = "b20251019"
