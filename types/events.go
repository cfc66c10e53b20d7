package types

// TabCreated reports that the browser opened a new tab.
type TabCreated struct {
	Tab TabID
}

// TabRemoved reports that the browser closed a tab.
type TabRemoved struct {
	Tab TabID
}

// TabMoved reports that a tab was attached to another window. The
// sidebar drops all presentation state for moved tabs, so the engine
// re-asserts believed states after this event.
type TabMoved struct {
	Tab TabID
}

// FactChanged reports an external change to a durable tab fact. When
// Defined is false the fact was removed and Value is nil.
type FactChanged struct {
	Tab     TabID
	Key     string
	Value   any
	Defined bool
}

// DataChanged is published by the tab cache after it applied a fact
// change to its in-memory view. When Defined is false the key was
// deleted and Value is omitted.
type DataChanged struct {
	Tab     TabID
	Key     string
	Value   any
	Defined bool
}

// SidebarRestarted reports that the sidebar process came back after
// losing all previously notified states.
type SidebarRestarted struct{}
