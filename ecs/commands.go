package ecs

import "github.com/rotisserie/eris"

// Commands buffers structural changes so they can be queued while iterating
// a view and applied afterwards.
type Commands struct {
	creates  []createCommand
	destroys []EntityID
	adds     []changeCommand
	removes  []changeCommand
	defers   []func()
}

// NewCommands creates an empty command buffer.
func NewCommands() *Commands {
	return &Commands{}
}

type createCommand struct {
	components []Component
}

type changeCommand struct {
	entity     EntityID
	components []Component
}

// Defer queues fn to run at the end of the flush.
func (c *Commands) Defer(fn func()) {
	c.defers = append(c.defers, fn)
}

// Create queues the creation of an entity carrying comps.
func (c *Commands) Create(comps ...Component) {
	c.creates = append(c.creates, createCommand{components: comps})
}

// Destroy queues the destruction of entity.
func (c *Commands) Destroy(entity EntityID) {
	c.destroys = append(c.destroys, entity)
}

// Add queues adding comps to entity.
func (c *Commands) Add(entity EntityID, comps ...Component) {
	c.adds = append(c.adds, changeCommand{entity: entity, components: comps})
}

// Remove queues removing comps from entity.
func (c *Commands) Remove(entity EntityID, comps ...Component) {
	c.removes = append(c.removes, changeCommand{entity: entity, components: comps})
}

// Len returns the number of queued commands.
func (c *Commands) Len() int {
	return len(c.creates) + len(c.destroys) + len(c.adds) + len(c.removes) + len(c.defers)
}

// Flush applies the queued commands to r and resets the buffer.
//
// Destroys run first as one bulk operation, then removes, adds, creates and
// deferred functions. Adds and removes aimed at an entity destroyed in the
// same flush are skipped. Every command is attempted and the first error is
// returned.
func (c *Commands) Flush(r *EntityRegistry) error {
	defer c.reset()

	destroyed := make(map[EntityID]struct{}, len(c.destroys))
	for _, id := range c.destroys {
		destroyed[id] = struct{}{}
	}
	if len(c.destroys) > 0 {
		r.DestroyEntityBulk(c.destroys)
	}

	var errs []error
	for _, cmd := range c.removes {
		if _, ok := destroyed[cmd.entity]; ok {
			continue
		}
		if err := r.RemoveComponents(cmd.entity, cmd.components...); err != nil {
			errs = append(errs, err)
		}
	}

	for _, cmd := range c.adds {
		if _, ok := destroyed[cmd.entity]; ok {
			continue
		}
		if err := r.AddComponents(cmd.entity, cmd.components...); err != nil {
			errs = append(errs, err)
		}
	}

	for _, cmd := range c.creates {
		if _, err := r.CreateEntity(cmd.components...); err != nil {
			errs = append(errs, err)
		}
	}

	for _, fn := range c.defers {
		fn()
	}

	if len(errs) > 0 {
		return eris.Wrapf(errs[0], "flush: %d commands failed", len(errs))
	}
	return nil
}

func (c *Commands) reset() {
	c.creates = c.creates[:0]
	c.destroys = c.destroys[:0]
	c.adds = c.adds[:0]
	c.removes = c.removes[:0]
	c.defers = c.defers[:0]
}
