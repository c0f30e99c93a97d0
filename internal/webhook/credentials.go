package webhook

import (
	"regexp"
	"strings"
)

var embeddedCredentials = regexp.MustCompile(`^https?://[^@/]+@`)

// InjectCredentials embeds username:token into an http(s) clone URL that has
// no credentials yet. Other schemes and incomplete credentials leave the URL untouched.
func InjectCredentials(rawURL, username, token string) string {
	if username == "" || token == "" {
		return rawURL
	}
	if embeddedCredentials.MatchString(rawURL) {
		return rawURL
	}
	creds := username + ":" + token + "@"
	for _, scheme := range []string{"https://", "http://"} {
		if strings.HasPrefix(rawURL, scheme) {
			return scheme + creds + strings.TrimPrefix(rawURL, scheme)
		}
	}
	return rawURL
}
