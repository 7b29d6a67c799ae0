package domain

// Phrases recognized in runtime error text. Matching is case-insensitive.
const (
	// PhraseRuntimeUnreachable marks an error caused by the runtime being unreachable.
	PhraseRuntimeUnreachable = "runtime is unreachable"
	// PhraseStopped and PhraseInterrupted mark a manual stop rather than a failure.
	PhraseStopped     = "stopped"
	PhraseInterrupted = "interrupted"
)
