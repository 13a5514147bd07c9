package buildvars

import (
	"strconv"
	"time"
)

// Set via -ldflags "-X github.com/xaionaro-go/callrecorder/pkg/buildvars.Version=...".
var (
	GitCommit       string
	Version         string
	BuildDateString string
	BuildDate       *time.Time
)

func init() {
	unixTS, err := strconv.ParseInt(BuildDateString, 10, 64)
	if err == nil {
		t := time.Unix(unixTS, 0)
		BuildDate = &t
	}
}
