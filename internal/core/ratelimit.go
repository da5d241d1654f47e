package core

import "time"

// RateWindow captures per-client, per-class fixed window state.
type RateWindow struct {
	Count       int
	WindowStart time.Time
}
