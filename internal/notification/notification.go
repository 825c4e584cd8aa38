// Package notification delivers outbound notifications. The only transport
// is a JSON webhook with SSRF protection.
package notification

import "errors"

// ErrURLRejected is returned when a webhook target fails validation.
var ErrURLRejected = errors.New("webhook URL rejected")
