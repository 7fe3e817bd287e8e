package mqtt

import "errors"

var (
	// ErrConnectionFailed means the initial broker connection did not
	// establish within the timeout.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrNotConnected means the session is down; auto-reconnect may still
	// bring it back.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrPublishFailed wraps publish rejections and ack timeouts.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed wraps subscribe rejections and ack timeouts.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS means a QoS outside 0..2 was requested.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic means an empty topic was given.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
