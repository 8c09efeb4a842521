package domain

import "errors"

var (
	ErrTopicNotFound      = errors.New("topic owner not found")
	ErrInvalidTopic       = errors.New("invalid topic")
	ErrInvalidToken       = errors.New("invalid token")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrUnroutable         = errors.New("notification has no routable topic")
)
