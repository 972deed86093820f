// Package services contains the application logic sitting between transport
// (HTTP, AMQP) and persistence.
package services

import "errors"

// ErrMalformedEvent marks a bus message whose payload cannot be decoded or
// is missing required fields. Such messages are rejected to the dead-letter
// queue rather than retried; redelivery cannot fix a bad payload.
var ErrMalformedEvent = errors.New("malformed event payload")
