package tether

import "context"

// Destroy deletes e's row after honoring every relation's OnDelete policy.
// Relations are walked once in declaration order; any failure, including a
// Restrict refusal, aborts before the owner's own DELETE is issued. Cascades
// already applied for earlier relations are not rolled back. Run inside a
// transaction when the whole walk must be atomic.
func (c *Client) Destroy(ctx context.Context, e Entity) error {
	if e == nil {
		return ErrNilEntity
	}
	return c.destroyEntity(ctx, e)
}

func (c *Client) destroyEntity(ctx context.Context, e Entity) error {
	s, err := c.registry.schemaFor(e)
	if err != nil {
		return err
	}
	if !pkPresent(s.pkValue(e)) {
		return nil
	}

	for _, desc := range s.Relations() {
		if desc.OnDelete == "" {
			continue
		}
		strat, err := c.strategyFor(s, desc)
		if err != nil {
			return err
		}
		if err := strat.ApplyCascade(ctx, e, desc.OnDelete); err != nil {
			return err
		}
	}

	_, err = c.Delete(ctx, e)
	return err
}

// DestroyMany loads each id and destroys the rows that exist, returning how
// many were destroyed. Ids that match nothing are skipped without error; the
// first failing cascade stops the walk.
func DestroyMany[E Entity](ctx context.Context, c *Client, ids ...any) (int, error) {
	n := 0
	for _, id := range ids {
		e, err := Query[E](c).Find(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return n, err
		}
		if err := c.destroyEntity(ctx, e); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
