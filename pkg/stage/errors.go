// ABOUTME: Sentinel errors for the playback layers
// ABOUTME: Callers match these with errors.Is
package stage

import "errors"

var (
	// ErrUnknownInstance names an instance id or speaker that is not sounding.
	// Stop and seek treat it as a no-op; it only appears in logs and protocol results.
	ErrUnknownInstance = errors.New("stage: unknown instance")

	// ErrSuperseded rejects a music switch overtaken by a newer play request
	ErrSuperseded = errors.New("stage: superseded by a newer request")

	// ErrDestroyed is returned by layers after Destroy
	ErrDestroyed = errors.New("stage: destroyed")
)
