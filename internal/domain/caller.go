package domain

// Caller is the authenticated identity on whose behalf an operation runs.
// Authentication itself happens upstream; the engine only authorizes.
type Caller struct {
	ID string
}

// SystemCaller identifies operations started by the automated pipeline.
var SystemCaller = Caller{ID: "system"}
