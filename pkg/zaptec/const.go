package zaptec

import "time"

const (
	// TokenURL is the OAuth2 token endpoint. Zaptec uses the password
	// grant and the token is refreshed on demand when a request gets 401.
	TokenURL = "https://api.zaptec.com/oauth/token"

	// APIURL is the base URL all API endpoint paths are resolved against.
	APIURL = "https://api.zaptec.com/api/"
)

const (
	apiRetries          = 8
	apiRetryInitDelay   = 300 * time.Millisecond
	apiRetryFactor      = 2.1
	apiRetryJitter      = 0.1
	apiRetryMaxInterval = 60 * time.Second
	apiTimeout          = 10 * time.Second

	// Max request rate against the cloud API, per second.
	apiRateLimit = 10
	apiRateBurst = 10

	// How much of an error response body gets logged.
	maxErrorBodyLog = 150
)

// chargerExcludes lists observation ids dropped from charger state polls.
// They contain production test results and MID calibration blobs which are
// large and never used.
var chargerExcludes = map[string]bool{
	"854": true,
	"900": true,
	"980": true,
}

// emptyUUID is the charger id Zaptec sends in stream messages that do not
// belong to any charger.
const emptyUUID = "00000000-0000-0000-0000-000000000000"
