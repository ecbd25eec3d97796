package domain

import "errors"

var (
	// ErrCaptureUnavailable is returned when the camera cannot be opened
	// (permission denied, device busy or missing).
	ErrCaptureUnavailable = errors.New("capture unavailable")

	// ErrAnalysisDegenerate is returned for frames without a valid sampling region.
	ErrAnalysisDegenerate = errors.New("analysis degenerate")

	// ErrNotificationDenied is returned when the OS refuses to show a notification.
	ErrNotificationDenied = errors.New("notification denied")

	// ErrAlreadyMonitoring is returned when start is called on a running controller.
	ErrAlreadyMonitoring = errors.New("already monitoring")

	// ErrStartAborted is returned when stop was requested while start awaited the camera.
	ErrStartAborted = errors.New("start aborted")

	// ErrSessionNotFound is returned when a focus session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUserNotFound is returned when a user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrNegativeDelta is returned for statistics deltas that would decrease a total.
	ErrNegativeDelta = errors.New("negative statistics delta")
)
