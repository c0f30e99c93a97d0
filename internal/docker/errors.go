package docker

import "errors"

// ErrNotInitialized indicates the client was used without a daemon connection.
var ErrNotInitialized = errors.New("docker: client not initialized")
