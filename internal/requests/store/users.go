package store

import (
	"context"
	"fmt"
	"time"

	"civreg/internal/gateway"
	"civreg/internal/requests/models"
	id "civreg/pkg/domain"
)

func byUser(uid id.UserID) []gateway.Filter {
	return []gateway.Filter{gateway.Eq("user_id", uid.String())}
}

func (s *Store) FindUser(ctx context.Context, uid id.UserID) (*models.User, error) {
	row, err := s.gw.SelectOne(ctx, gateway.TableUsers, gateway.Where(byUser(uid)...))
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return UserFromRow(row)
}

// ListUsers returns every profile, oldest first.
func (s *Store) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.gw.Select(ctx, gateway.TableUsers, gateway.Query{
		Order: []gateway.Order{gateway.Asc("created_at"), gateway.Asc("user_id")},
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]*models.User, 0, len(rows))
	for _, row := range rows {
		u, err := UserFromRow(row)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *Store) InsertUser(ctx context.Context, u models.User, now time.Time) (*models.User, error) {
	role := u.Role
	if role == "" {
		role = id.RoleUser
	}
	row, err := s.gw.Insert(ctx, gateway.TableUsers, gateway.Row{
		"user_id":        u.ID.String(),
		"first_name":     u.FirstName,
		"last_name":      u.LastName,
		"contact_number": u.ContactNumber,
		"email":          u.Email,
		"role":           string(role),
		"created_at":     now.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return UserFromRow(row)
}

func (s *Store) UpdateUserRole(ctx context.Context, uid id.UserID, role id.Role) (*models.User, error) {
	row, err := s.gw.Update(ctx, gateway.TableUsers, byUser(uid), gateway.Row{"role": string(role)})
	if err != nil {
		return nil, fmt.Errorf("update user role: %w", err)
	}
	return UserFromRow(row)
}
