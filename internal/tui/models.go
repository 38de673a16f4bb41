package tui

type View int

const (
	ViewSearch View = iota
	ViewDetail
)

// Focus is the search view widget receiving keys.
type Focus int

const (
	FocusInput Focus = iota
	FocusResults
)
