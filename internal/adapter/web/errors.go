package web

import "errors"

var (
	ErrMissingToken    = errors.New("web: bearer token not configured")
	ErrMissingAPIKey   = errors.New("web: api key not configured")
	ErrDisallowed      = errors.New("web: path disallowed by robots.txt")
)
