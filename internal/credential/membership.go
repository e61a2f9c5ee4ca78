package credential

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/mutual/internal/store"
)

// Members returns the direct members of a team key.
func (k *Keyring) Members(ctx context.Context, team string) ([]string, error) {
	rec, err := k.store.GetKey(ctx, team)
	if err != nil {
		return nil, fmt.Errorf("members: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("members of %s: %w", team, ErrUnknownKey)
	}
	return rec.Members, nil
}

// Kind returns the kind of key tag names.
func (k *Keyring) Kind(ctx context.Context, tag string) (store.KeyKind, error) {
	rec, err := k.store.GetKey(ctx, tag)
	if err != nil {
		return "", fmt.Errorf("kind: %w", err)
	}
	if rec == nil {
		return "", fmt.Errorf("kind of %s: %w", tag, ErrUnknownKey)
	}
	return rec.Kind, nil
}

// IsMember reports whether member can reach team through membership,
// directly or through nested teams.
func (k *Keyring) IsMember(ctx context.Context, team, member string) (bool, error) {
	visited := map[string]bool{}
	queue := []string{team}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true

		rec, err := k.store.GetKey(ctx, cur)
		if err != nil {
			return false, fmt.Errorf("is member: %w", err)
		}
		if rec == nil {
			continue
		}
		for _, m := range rec.Members {
			if m == member {
				return true, nil
			}
			queue = append(queue, m)
		}
	}
	return false, nil
}

// ChangeMembership adds and removes members of a team and reseals its
// private half to the new member set. The caller must be able to unlock
// the team.
func (k *Keyring) ChangeMembership(ctx context.Context, team string, add, remove []string) error {
	rec, err := k.store.GetKey(ctx, team)
	if err != nil {
		return fmt.Errorf("change membership: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("change membership of %s: %w", team, ErrUnknownKey)
	}
	if rec.Kind != store.KeyTeam {
		return fmt.Errorf("change membership: %s is a %s key", team, rec.Kind)
	}
	b, err := k.unlock(ctx, team)
	if err != nil {
		return fmt.Errorf("change membership: %w", err)
	}

	members := make([]string, 0, len(rec.Members)+len(add))
	for _, m := range rec.Members {
		if !slices.Contains(remove, m) {
			members = append(members, m)
		}
	}
	members = dedupe(append(members, add...))
	if len(members) == 0 {
		return fmt.Errorf("change membership of %s: team would have no members", team)
	}
	if slices.Equal(members, rec.Members) {
		return nil
	}

	plaintext, err := b.marshal()
	if err != nil {
		return fmt.Errorf("change membership: %w", err)
	}
	sealed, err := k.sealTo(ctx, plaintext, members)
	if err != nil {
		return fmt.Errorf("change membership: %w", err)
	}
	rec.Sealed = sealed
	rec.Members = members
	if err := k.store.PutKey(ctx, *rec); err != nil {
		return fmt.Errorf("change membership: %w", err)
	}

	k.logger.Debug("team membership changed", "team", team, "added", len(add), "removed", len(remove))
	return nil
}

// Destroy removes a key. For a team, device and recovery keys that belong
// to no other team are destroyed with it. Device keys whose secrets live on
// another device cannot be reached from here; they are logged and skipped.
// Destroying an unknown tag is a no-op.
func (k *Keyring) Destroy(ctx context.Context, tag string) error {
	rec, err := k.store.GetKey(ctx, tag)
	if err != nil {
		return fmt.Errorf("destroy: %w", err)
	}
	if rec == nil {
		return nil
	}
	if _, err := k.unlock(ctx, tag); err != nil {
		return fmt.Errorf("destroy: %w", err)
	}

	if rec.Kind == store.KeyTeam {
		for _, m := range rec.Members {
			if err := k.destroyOwned(ctx, tag, m); err != nil {
				return fmt.Errorf("destroy %s: %w", tag, err)
			}
		}
	}
	if err := k.removeKey(ctx, rec); err != nil {
		return fmt.Errorf("destroy: %w", err)
	}
	k.logger.Debug("key destroyed", "kind", rec.Kind, "tag", tag)
	return nil
}

// destroyOwned removes member if team is the only team that lists it.
// Team members are never destroyed here; they have lives of their own.
func (k *Keyring) destroyOwned(ctx context.Context, team, member string) error {
	rec, err := k.store.GetKey(ctx, member)
	if err != nil {
		return err
	}
	if rec == nil || rec.Kind == store.KeyTeam {
		return nil
	}
	teams, err := k.store.TeamsWithMember(ctx, member)
	if err != nil {
		return err
	}
	if len(teams) != 1 || teams[0] != team {
		return nil
	}

	if rec.Kind == store.KeyDevice {
		secret, err := k.store.GetDeviceSecret(ctx, k.device, member)
		if err != nil {
			return err
		}
		if secret == nil {
			k.logger.Warn("device key not reachable from this device, skipping", "team", team, "device_key", member)
			return nil
		}
	}
	return k.removeKey(ctx, rec)
}

func (k *Keyring) removeKey(ctx context.Context, rec *store.KeyRecord) error {
	if rec.Kind == store.KeyDevice {
		if _, err := k.store.DeleteDeviceSecret(ctx, k.device, rec.Tag); err != nil {
			return err
		}
	}
	if err := k.store.DeleteKey(ctx, rec.Tag); err != nil {
		return err
	}
	k.forget(rec.Tag)
	k.mu.Lock()
	delete(k.answers, rec.Tag)
	k.mu.Unlock()
	return nil
}
