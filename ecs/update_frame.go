package ecs

// UpdateFrame is passed to every System during one scheduler tick.
type UpdateFrame struct {
	DeltaTime float64
	Commands  *Commands
	Registry  *EntityRegistry
}

func newUpdateFrame(dt float64, registry *EntityRegistry, commands *Commands) *UpdateFrame {
	return &UpdateFrame{
		DeltaTime: dt,
		Commands:  commands,
		Registry:  registry,
	}
}
