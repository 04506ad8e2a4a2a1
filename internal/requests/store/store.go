// Package store gives the request services typed access to the backend tables
// through the remote data gateway. It holds no state of its own: every call is
// a gateway round trip and errors are the gateway's, wrapped with context.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"civreg/internal/gateway"
	"civreg/internal/requests/models"
	id "civreg/pkg/domain"
	"civreg/pkg/platform/sentinel"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = sentinel.ErrNotFound

type Store struct {
	gw gateway.Gateway
}

func New(gw gateway.Gateway) *Store {
	return &Store{gw: gw}
}

// Gateway exposes the underlying gateway for subscriptions.
func (s *Store) Gateway() gateway.Gateway {
	return s.gw
}

func byRequest(rid id.RequestID) []gateway.Filter {
	return []gateway.Filter{gateway.Eq("req_id", int64(rid))}
}

// FindRequest loads a request with its owner aggregate and status history.
func (s *Store) FindRequest(ctx context.Context, rid id.RequestID) (*models.Request, error) {
	row, err := s.gw.SelectOne(ctx, gateway.TableRequester, gateway.Query{
		Filters: byRequest(rid),
		Expand:  requestExpand,
	})
	if err != nil {
		return nil, fmt.Errorf("find request %d: %w", rid, err)
	}
	return RequestFromRow(row), nil
}

// ListRequests runs a filtered listing, newest first. Every predicate except
// Status is evaluated by the backend; Status compares each request's latest
// status and is applied here, before the limit.
func (s *Store) ListRequests(ctx context.Context, f models.FilterSpec) ([]*models.Request, error) {
	q := gateway.Query{Order: newestFirst, Expand: requestExpand, Limit: f.Limit}
	if !f.UserID.IsNil() {
		q.Filters = append(q.Filters, gateway.Eq("user_id", f.UserID.String()))
	}
	if f.IsDraft != nil {
		q.Filters = append(q.Filters, gateway.Eq("is_draft", *f.IsDraft))
	}
	if f.Purpose != "" {
		q.Filters = append(q.Filters, gateway.Contains("purpose", f.Purpose))
	}
	if f.CreatedFrom != nil {
		q.Filters = append(q.Filters, gateway.Gte("created_at", f.CreatedFrom.UTC()))
	}
	if f.CreatedTo != nil {
		q.Filters = append(q.Filters, gateway.Lte("created_at", f.CreatedTo.UTC()))
	}
	if f.Status != "" {
		q.Limit = 0
	}
	rows, err := s.gw.Select(ctx, gateway.TableRequester, q)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	out := make([]*models.Request, 0, len(rows))
	for _, row := range rows {
		r := RequestFromRow(row)
		if f.Status != "" && !f.Matches(r) {
			continue
		}
		out = append(out, r)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// FindDuplicates returns submitted requests carrying the same duplicate key,
// with statuses expanded.
func (s *Store) FindDuplicates(ctx context.Context, key models.DuplicateKey) ([]*models.Request, error) {
	rows, err := s.gw.Select(ctx, gateway.TableRequester, gateway.Query{
		Filters: []gateway.Filter{
			gateway.Eq("user_id", key.UserID.String()),
			gateway.Eq("first_name", key.FirstName),
			gateway.Eq("last_name", key.LastName),
			gateway.Eq("contact_number", key.ContactNumber),
			gateway.Eq("purpose", key.Purpose),
			gateway.Eq("is_draft", false),
		},
		Expand: []gateway.Expand{statusExpand},
	})
	if err != nil {
		return nil, fmt.Errorf("find duplicates: %w", err)
	}
	out := make([]*models.Request, 0, len(rows))
	for _, row := range rows {
		out = append(out, RequestFromRow(row))
	}
	return out, nil
}

// LatestDraft returns the user's most recently created draft.
func (s *Store) LatestDraft(ctx context.Context, userID id.UserID) (*models.Request, error) {
	row, err := s.gw.SelectOne(ctx, gateway.TableRequester, gateway.Query{
		Filters: []gateway.Filter{
			gateway.Eq("user_id", userID.String()),
			gateway.Eq("is_draft", true),
		},
		Order:  newestFirst,
		Expand: requestExpand,
	})
	if err != nil {
		return nil, fmt.Errorf("latest draft: %w", err)
	}
	return RequestFromRow(row), nil
}

// InsertRequest stores a new requester row. The row is always written with
// is_draft=true; leaving draft state is a separate explicit update.
func (s *Store) InsertRequest(ctx context.Context, in models.CreateRequestInput, now time.Time) (*models.Request, error) {
	row, err := s.gw.Insert(ctx, gateway.TableRequester, gateway.Row{
		"user_id":        in.UserID.String(),
		"first_name":     in.FirstName,
		"last_name":      in.LastName,
		"contact_number": in.ContactNumber,
		"purpose":        in.Purpose,
		"specify":        in.Specify,
		"is_draft":       true,
		"created_at":     now.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("insert request: %w", err)
	}
	return RequestFromRow(row), nil
}

// UpdateRequest applies patch and returns the stored row (relations not expanded).
func (s *Store) UpdateRequest(ctx context.Context, rid id.RequestID, patch models.RequestPatch) (*models.Request, error) {
	row, err := s.gw.Update(ctx, gateway.TableRequester, byRequest(rid), patchRow(patch))
	if err != nil {
		return nil, fmt.Errorf("update request %d: %w", rid, err)
	}
	return RequestFromRow(row), nil
}

func (s *Store) DeleteRequest(ctx context.Context, rid id.RequestID) error {
	if err := s.gw.Delete(ctx, gateway.TableRequester, byRequest(rid)); err != nil {
		return fmt.Errorf("delete request %d: %w", rid, err)
	}
	return nil
}

// ListStatuses returns a request's status rows, newest first.
func (s *Store) ListStatuses(ctx context.Context, rid id.RequestID) ([]models.Status, error) {
	rows, err := s.gw.Select(ctx, gateway.TableStatus, gateway.Query{
		Filters: byRequest(rid),
		Order:   statusExpand.Order,
	})
	if err != nil {
		return nil, fmt.Errorf("list statuses %d: %w", rid, err)
	}
	out := make([]models.Status, 0, len(rows))
	for _, row := range rows {
		out = append(out, StatusFromRow(row))
	}
	return out, nil
}

func (s *Store) InsertStatus(ctx context.Context, rid id.RequestID, value id.StatusValue, now time.Time) (models.Status, error) {
	row, err := s.gw.Insert(ctx, gateway.TableStatus, gateway.Row{
		"req_id":         int64(rid),
		"status_current": string(value),
		"updated_at":     now.UTC(),
	})
	if err != nil {
		return models.Status{}, fmt.Errorf("insert status %d: %w", rid, err)
	}
	return StatusFromRow(row), nil
}

// SetStatus overwrites the request's status rows, inserting one when none exist.
func (s *Store) SetStatus(ctx context.Context, rid id.RequestID, value id.StatusValue, now time.Time) (models.Status, error) {
	row, err := s.gw.Update(ctx, gateway.TableStatus, byRequest(rid), gateway.Row{
		"status_current": string(value),
		"updated_at":     now.UTC(),
	})
	if errors.Is(err, sentinel.ErrNotFound) {
		return s.InsertStatus(ctx, rid, value, now)
	}
	if err != nil {
		return models.Status{}, fmt.Errorf("set status %d: %w", rid, err)
	}
	return StatusFromRow(row), nil
}

func (s *Store) DeleteStatuses(ctx context.Context, rid id.RequestID) error {
	if err := s.gw.Delete(ctx, gateway.TableStatus, byRequest(rid)); err != nil {
		return fmt.Errorf("delete statuses %d: %w", rid, err)
	}
	return nil
}

// CertificateNumber is the number assigned when a request is submitted.
func CertificateNumber(rid id.RequestID, now time.Time) string {
	return fmt.Sprintf("BC-%04d-%06d", now.Year(), int64(rid))
}

func (s *Store) FindCertificate(ctx context.Context, rid id.RequestID) (models.Certificate, error) {
	row, err := s.gw.SelectOne(ctx, gateway.TableCertificate, gateway.Where(byRequest(rid)...))
	if err != nil {
		return models.Certificate{}, fmt.Errorf("find certificate %d: %w", rid, err)
	}
	return CertificateFromRow(row), nil
}

func (s *Store) InsertCertificate(ctx context.Context, rid id.RequestID, certNumber string) (models.Certificate, error) {
	row, err := s.gw.Insert(ctx, gateway.TableCertificate, gateway.Row{
		"req_id":      int64(rid),
		"cert_number": certNumber,
		"issue_date":  nil,
	})
	if err != nil {
		return models.Certificate{}, fmt.Errorf("insert certificate %d: %w", rid, err)
	}
	return CertificateFromRow(row), nil
}

// IssueCertificate stamps the issue date on a request's certificate.
func (s *Store) IssueCertificate(ctx context.Context, rid id.RequestID, at time.Time) (models.Certificate, error) {
	row, err := s.gw.Update(ctx, gateway.TableCertificate, byRequest(rid), gateway.Row{"issue_date": at.UTC()})
	if err != nil {
		return models.Certificate{}, fmt.Errorf("issue certificate %d: %w", rid, err)
	}
	return CertificateFromRow(row), nil
}

func (s *Store) DeleteCertificates(ctx context.Context, rid id.RequestID) error {
	if err := s.gw.Delete(ctx, gateway.TableCertificate, byRequest(rid)); err != nil {
		return fmt.Errorf("delete certificates %d: %w", rid, err)
	}
	return nil
}
