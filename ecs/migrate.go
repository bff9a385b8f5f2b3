package ecs

// componentChange is a validated add/remove request.
type componentChange struct {
	add       []resolvedComponent
	removeSig Signature
}

func (r *EntityRegistry) resolveChange(add, remove []Component) (componentChange, error) {
	resolvedAdd, _, err := r.components.resolveComponents(add)
	if err != nil {
		return componentChange{}, err
	}
	_, removeSig, err := r.components.resolveComponents(remove)
	if err != nil {
		return componentChange{}, err
	}
	return componentChange{add: resolvedAdd, removeSig: removeSig}, nil
}

// destination returns src ∪ add − remove.
func (c *componentChange) destination(src Signature) Signature {
	dst := src.Clone()
	for _, rc := range c.add {
		dst.Set(rc.id)
	}
	for _, id := range c.removeSig.IDs() {
		dst.Unset(id)
	}
	return dst
}

// construct writes every component that dst gained relative to src into row.
func (c *componentChange) construct(row []byte, src Signature, dst *Archetype) {
	for i := range c.add {
		rc := &c.add[i]
		if src.Has(rc.id) {
			continue
		}
		off, ok := dst.offsets[rc.id]
		if !ok {
			continue
		}
		rc.write(row[off:])
	}
}

// moveGroup moves ids from src to the archetype selected by change. The
// destination and shared offsets are computed once for the whole group.
func (r *EntityRegistry) moveGroup(src *Archetype, ids []EntityID, change *componentChange) error {
	dstSig := change.destination(src.signature)
	if dstSig.Equal(src.signature) {
		return nil
	}
	dst, err := r.archetypeFor(dstSig)
	if err != nil {
		return err
	}
	shared := sharedComponents(src, dst, r.components)

	block, err := dst.InsertBulkUninitialized(ids)
	if err != nil {
		return err
	}
	for i, id := range ids {
		from := src.Get(id)
		row := block[i*dst.stride : (i+1)*dst.stride]
		copy(row[:entityMetaSize], from[:entityMetaSize])
		for _, c := range shared {
			copy(row[c.dst:c.dst+c.size], from[c.src:c.src+c.size])
		}
		change.construct(row, src.signature, dst)
	}
	src.RemoveBulk(ids)
	for _, id := range ids {
		r.entities.Put(id, dst)
	}
	return nil
}

// ModifyComponents adds and removes components on id in one move. Unknown
// ids are ignored. A component listed in both add and remove is removed.
func (r *EntityRegistry) ModifyComponents(id EntityID, add, remove []Component) error {
	change, err := r.resolveChange(add, remove)
	if err != nil {
		return err
	}
	src, ok := r.entities.Get(id)
	if !ok {
		return nil
	}
	return r.moveGroup(src, []EntityID{id}, &change)
}

// AddComponents adds comps to id.
func (r *EntityRegistry) AddComponents(id EntityID, comps ...Component) error {
	return r.ModifyComponents(id, comps, nil)
}

// RemoveComponents removes comps from id.
func (r *EntityRegistry) RemoveComponents(id EntityID, comps ...Component) error {
	return r.ModifyComponents(id, nil, comps)
}

// ModifyComponentsBulk applies the same change to every id, batching by
// source archetype. It returns the ids that were not found.
func (r *EntityRegistry) ModifyComponentsBulk(ids []EntityID, add, remove []Component) ([]EntityID, error) {
	change, err := r.resolveChange(add, remove)
	if err != nil {
		return nil, err
	}
	groups, missing := r.groupByArchetype(ids)
	for _, g := range groups {
		if err := r.moveGroup(g.archetype, g.ids, &change); err != nil {
			return missing, err
		}
	}
	return missing, nil
}

// AddComponentsBulk adds comps to every id.
func (r *EntityRegistry) AddComponentsBulk(ids []EntityID, comps ...Component) ([]EntityID, error) {
	return r.ModifyComponentsBulk(ids, comps, nil)
}

// RemoveComponentsBulk removes comps from every id.
func (r *EntityRegistry) RemoveComponentsBulk(ids []EntityID, comps ...Component) ([]EntityID, error) {
	return r.ModifyComponentsBulk(ids, nil, comps)
}

// MigrateArchetypeModifyComponents moves the whole archetype whose signature
// is exactly from into the archetype from ∪ add − remove. It returns how many
// entities moved; 0 when no such archetype has entities or the signature
// would not change.
func (r *EntityRegistry) MigrateArchetypeModifyComponents(from, add, remove []Component) (int, error) {
	_, fromSig, err := r.components.resolveComponents(from)
	if err != nil {
		return 0, err
	}
	change, err := r.resolveChange(add, remove)
	if err != nil {
		return 0, err
	}

	src := r.findArchetype(fromSig)
	if src == nil || src.Empty() {
		return 0, nil
	}
	dstSig := change.destination(fromSig)
	if dstSig.Equal(fromSig) {
		return 0, nil
	}
	dst, err := r.archetypeFor(dstSig)
	if err != nil {
		return 0, err
	}

	start := dst.Size()
	moved := src.MigrateAllTo(dst, r.components)
	for i, id := range moved {
		change.construct(dst.storage.Row(start+i), fromSig, dst)
		r.entities.Put(id, dst)
	}

	r.logger.Debug().
		Stringer("from", fromSig).
		Stringer("to", dstSig).
		Int("entities", len(moved)).
		Msg("archetype migrated")
	return len(moved), nil
}
