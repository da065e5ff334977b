package ports

// Notes is per-login-attempt key/value storage, scoped to a single
// authentication session. The OTP manager keeps its code, timestamp, attempt
// counter and lockout marker here and assumes nothing about the backing store.
type Notes interface {
	Get(key string) string
	Set(key, value string)
	Remove(key string)
}

// NotesProvider hands out the Notes view for a given authentication session.
type NotesProvider interface {
	ForSession(sessionID string) Notes
}
