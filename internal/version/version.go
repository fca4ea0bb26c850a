package version

import (
	"fmt"
	"runtime"
	"time"
)

var (
	Version   = "dev"                           // ex: v0.1.0
	Commit    = "none"                          // ex: abcd123
	BuildDate = time.Now().Format(time.RFC3339) // ex: 2025-08-11T18:42:00Z
	GoVersion = runtime.Version()               // go version
)

// BotName is the product token robots.txt rules are matched against.
const BotName = "PrivateBinDirectoryBot"

// AboutURL is the disclosure page linked from the user agent.
const AboutURL = "https://privatebin.info/directory/about"

// UserAgent returns the version-stamped user agent sent with every probe.
func UserAgent() string {
	return fmt.Sprintf("%s/%s (+%s)", BotName, Version, AboutURL)
}
