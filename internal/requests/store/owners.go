package store

import (
	"context"
	"errors"
	"fmt"

	"civreg/internal/gateway"
	"civreg/internal/requests/models"
	id "civreg/pkg/domain"
	"civreg/pkg/platform/sentinel"
)

func (s *Store) FindOwner(ctx context.Context, oid id.OwnerID) (*models.Owner, error) {
	row, err := s.gw.SelectOne(ctx, gateway.TableOwner, gateway.Query{
		Filters: []gateway.Filter{gateway.Eq("owner_id", int64(oid))},
		Expand:  ownerExpand.Expand,
	})
	if err != nil {
		return nil, fmt.Errorf("find owner %d: %w", oid, err)
	}
	return OwnerFromRow(row), nil
}

func (s *Store) InsertOwner(ctx context.Context, o models.Owner) (*models.Owner, error) {
	row, err := s.gw.Insert(ctx, gateway.TableOwner, ownerRow(o))
	if err != nil {
		return nil, fmt.Errorf("insert owner: %w", err)
	}
	return OwnerFromRow(row), nil
}

// UpdateOwner overwrites every owner column in place.
func (s *Store) UpdateOwner(ctx context.Context, oid id.OwnerID, o models.Owner) (*models.Owner, error) {
	row, err := s.gw.Update(ctx, gateway.TableOwner, []gateway.Filter{gateway.Eq("owner_id", int64(oid))}, ownerRow(o))
	if err != nil {
		return nil, fmt.Errorf("update owner %d: %w", oid, err)
	}
	return OwnerFromRow(row), nil
}

func (s *Store) DeleteOwner(ctx context.Context, oid id.OwnerID) error {
	if err := s.gw.Delete(ctx, gateway.TableOwner, []gateway.Filter{gateway.Eq("owner_id", int64(oid))}); err != nil {
		return fmt.Errorf("delete owner %d: %w", oid, err)
	}
	return nil
}

// FindOrCreateParent looks a parent up by its four name fields and inserts
// it only when no row matches. The lookup and insert are separate calls, so
// two concurrent saves of the same names can both insert.
func (s *Store) FindOrCreateParent(ctx context.Context, p models.Parent) (models.Parent, error) {
	key := parentRow(p.Trimmed())
	row, err := s.findOrCreate(ctx, gateway.TableParent, key)
	if err != nil {
		return models.Parent{}, fmt.Errorf("find or create parent: %w", err)
	}
	return ParentFromRow(row), nil
}

// FindOrCreateAddress is FindOrCreateParent for the six address fields.
func (s *Store) FindOrCreateAddress(ctx context.Context, a models.Address) (models.Address, error) {
	key := addressRow(a.Trimmed())
	row, err := s.findOrCreate(ctx, gateway.TableAddress, key)
	if err != nil {
		return models.Address{}, fmt.Errorf("find or create address: %w", err)
	}
	return AddressFromRow(row), nil
}

func (s *Store) findOrCreate(ctx context.Context, t gateway.Table, key gateway.Row) (gateway.Row, error) {
	row, err := s.gw.SelectOne(ctx, t, gateway.Query{
		Filters: exactMatch(key),
		Order:   []gateway.Order{gateway.Asc(gateway.PrimaryKey(t))},
	})
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}
	return s.gw.Insert(ctx, t, key)
}

func (s *Store) DeleteParent(ctx context.Context, pid id.ParentID) error {
	if err := s.gw.Delete(ctx, gateway.TableParent, []gateway.Filter{gateway.Eq("parent_id", int64(pid))}); err != nil {
		return fmt.Errorf("delete parent %d: %w", pid, err)
	}
	return nil
}

func (s *Store) DeleteAddress(ctx context.Context, aid id.AddressID) error {
	if err := s.gw.Delete(ctx, gateway.TableAddress, []gateway.Filter{gateway.Eq("address_id", int64(aid))}); err != nil {
		return fmt.Errorf("delete address %d: %w", aid, err)
	}
	return nil
}
