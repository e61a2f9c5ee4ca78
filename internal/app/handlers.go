package app

import (
	"context"
	"fmt"

	"github.com/roach88/mutual/internal/collection"
	"github.com/roach88/mutual/internal/engine"
	"github.com/roach88/mutual/internal/entity"
	"github.com/roach88/mutual/internal/persist"
	"github.com/roach88/mutual/internal/store"
)

func (a *App) registerHandlers() {
	r := a.Realm
	a.Engine.Handle(entity.CollectionUsers, publicHandler(r.Users))
	a.Engine.Handle(entity.CollectionUsersPrivate, a.userPrivate)
	a.Engine.Handle(entity.CollectionGroups, publicHandler(r.Groups))
	a.Engine.Handle(entity.CollectionGroupsPriv, privateHandler(r.Groups))
	a.Engine.Handle(entity.CollectionMembers, publicHandler(r.Members))
	a.Engine.Handle(entity.CollectionMessages, a.message)
}

// publicHandler refreshes the live instance a change touched. Instances
// that are not loaded are skipped; they read current state when fetched.
func publicHandler[T persist.Entity](d *persist.Directory[T]) engine.Handler {
	return func(ctx context.Context, c store.Change) error {
		if _, live := d.Lookup(nil, c.Tag); !live {
			return nil
		}
		if c.Op == store.OpRemove {
			d.Evict(c.Tag)
			return nil
		}
		v, err := d.Stores().Public.Retrieve(ctx, collection.RetrieveOptions{Tag: c.Tag})
		if err != nil {
			return fmt.Errorf("refresh %s: %w", c.Tag, err)
		}
		if v == nil {
			return nil
		}
		_, err = d.Update(ctx, v)
		return err
	}
}

// privateHandler applies a private change to an owned live instance.
func privateHandler[T persist.Entity](d *persist.Directory[T]) engine.Handler {
	return func(ctx context.Context, c store.Change) error {
		_, err := applyPrivate(ctx, d, c)
		return err
	}
}

func applyPrivate[T persist.Entity](ctx context.Context, d *persist.Directory[T], c store.Change) (bool, error) {
	if _, live := d.Lookup(nil, c.Tag); !live {
		return false, nil
	}
	if c.Op == store.OpRemove {
		d.Evict(c.Tag)
		return false, nil
	}
	v, err := d.Stores().Private.Retrieve(ctx, collection.RetrieveOptions{Tag: c.Tag})
	if err != nil {
		return false, fmt.Errorf("refresh private %s: %w", c.Tag, err)
	}
	if v == nil {
		return false, nil
	}
	return d.UpdatePrivate(v), nil
}

// userPrivate also loads groups a user joined on another device.
func (a *App) userPrivate(ctx context.Context, c store.Change) error {
	applied, err := applyPrivate(ctx, a.Realm.Users, c)
	if err != nil || !applied {
		return err
	}
	u, ok := a.Realm.Users.Lookup(nil, c.Tag)
	if !ok {
		return nil
	}
	groups, err := u.LoadGroups(ctx)
	if err != nil {
		return err
	}
	a.logger.Debug("user refreshed", "user", c.Tag, "groups", len(groups))
	return nil
}

// message adds a new version to the history of its group, if that group
// is loaded.
func (a *App) message(ctx context.Context, c store.Change) error {
	if c.Op != store.OpAppend {
		return nil
	}
	g, ok := a.Realm.Groups.Lookup(nil, c.Tag)
	if !ok {
		return nil
	}
	if _, err := g.Receive(ctx, c.Hash); err != nil {
		return err
	}
	a.logger.Debug("message received", "group", c.Tag, "hash", c.Hash)
	return nil
}
