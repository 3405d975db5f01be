package auth

// Scopes recognised by the coaching service.
const (
	// ScopeAuthor covers template authoring, membership management, and
	// period planning.
	ScopeAuthor = "coaching:author"
	// ScopeEnroll covers enrollment lifecycle operations.
	ScopeEnroll = "coaching:enroll"
	// ScopeTrack covers execution reads and completion recording.
	ScopeTrack = "coaching:track"
)
