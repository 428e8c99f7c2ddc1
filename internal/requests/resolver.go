package requests

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"crewarchive.org/internal/policy"
)

// ResolveApprovers returns the advisory set of user ids who could decide the
// request right now. The set drives notification fan-out and UI display; it
// is never consulted at decision time, where the capability check runs
// against a fresh user read instead.
//
// Resource-scoped requests collect the creator, the team members and the
// moderators of the resource's city; every type also collects the admins.
// The sender is excluded and the result is sorted and de-duplicated.
func (s *Service) ResolveApprovers(ctx context.Context, req Request) ([]string, error) {
	seen := make(map[string]struct{})

	switch p := req.Payload.(type) {
	case TaggingPayload:
		if err := s.collectResourceApprovers(ctx, p.ResourceType, p.ResourceID, seen); err != nil {
			return nil, err
		}
	case TeamMemberPayload:
		if err := s.collectResourceApprovers(ctx, p.ResourceType, p.ResourceID, seen); err != nil {
			return nil, err
		}
	}

	admins, err := s.store.ListUsersWithMinLevel(ctx, policy.LevelAdmin)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	for _, u := range admins {
		seen[u.ID] = struct{}{}
	}

	delete(seen, req.SenderID)

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Service) collectResourceApprovers(ctx context.Context, rt ResourceType, id string, seen map[string]struct{}) error {
	res, err := s.store.FindResource(ctx, rt, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Resource vanished after the request was created; fall
			// back to the admin set.
			return nil
		}
		return fmt.Errorf("find resource: %w", err)
	}
	if res.CreatorID != "" {
		seen[res.CreatorID] = struct{}{}
	}

	team, err := s.store.TeamMemberIDs(ctx, rt, id)
	if err != nil {
		return fmt.Errorf("list team members: %w", err)
	}
	for _, uid := range team {
		seen[uid] = struct{}{}
	}

	if res.CityID != "" {
		mods, err := s.store.ListCityModerators(ctx, res.CityID)
		if err != nil {
			return fmt.Errorf("list city moderators: %w", err)
		}
		for _, u := range mods {
			seen[u.ID] = struct{}{}
		}
	}
	return nil
}
