// Package catalog defines the audio catalog abstraction used by the
// auto-audio director and the trigger engine.
//
// A Source wraps one external audio library (Tabletop Audio, Jamendo,
// Freesound) behind a uniform text search. Sources are stateless and safe
// for concurrent use; caching and fallback ordering live in the resolver
// that consumes them, not here.
package catalog

import "context"

// TrackType distinguishes long-form looping audio from one-shot effects.
type TrackType string

const (
	// TypeMusic is looping background music or ambience.
	TypeMusic TrackType = "music"
	// TypeEffect is a short one-shot sound effect.
	TypeEffect TrackType = "effect"
)

// Track is a playable audio result from a catalog source.
type Track struct {
	// ID is unique within the originating source.
	ID string `json:"id"`

	// Name is the human-readable title shown in the client UI.
	Name string `json:"name"`

	// Src is the direct streaming URL for playback.
	Src string `json:"src"`

	// Type is music or effect.
	Type TrackType `json:"type"`

	// Source names the catalog this track came from (Source.Name()).
	Source string `json:"source"`

	// Duration is the track length in seconds. Zero when unknown.
	Duration float64 `json:"duration,omitempty"`

	// Attribution is the license credit line, required by some catalogs.
	Attribution string `json:"attribution,omitempty"`

	// Loop indicates the client should loop playback.
	Loop bool `json:"loop"`

	// Volume is the suggested playback volume in [0, 1]. Zero means the
	// client default.
	Volume float64 `json:"volume,omitempty"`
}

// SearchOpts narrows a catalog search.
type SearchOpts struct {
	// Tags restricts results to tracks carrying all given tags, for
	// sources that support tag filtering.
	Tags []string

	// MaxDuration, in seconds, filters out longer tracks. Zero = no limit.
	MaxDuration float64

	// Limit caps the number of results. Zero means the source default.
	Limit int
}

// Source is a searchable audio catalog.
type Source interface {
	// Name returns the stable identifier of this catalog (e.g., "jamendo").
	Name() string

	// Search returns tracks matching the free-text query. An empty result
	// is not an error. Implementations must respect ctx cancellation.
	Search(ctx context.Context, query string, opts SearchOpts) ([]Track, error)
}
