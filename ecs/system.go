package ecs

// System is a unit of per-frame behavior run by a Scheduler. Query and
// Singleton fields of a System struct are initialized on registration; any
// other fields keep their state between frames.
type System interface {
	Execute(frame *UpdateFrame)
}
