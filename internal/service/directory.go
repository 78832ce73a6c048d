package service

import (
	"context"
	"errors"

	apperrors "github.com/tuning-platform/internal/errors"
	"github.com/tuning-platform/internal/storage"
	"github.com/tuning-platform/internal/types"
)

// Contact is the display metadata for a tenant or customer.
type Contact struct {
	ID    string
	Name  string
	Email string
}

// Directory provides read-only tenant and customer lookups. The directory
// itself lives outside this core; deployments plug in their own client.
type Directory interface {
	Tenant(ctx context.Context, id string) (*Contact, error)
	Customer(ctx context.Context, id string) (*Contact, error)
}

// Notifier dispatches customer-facing notifications. Dispatch transport
// (email, push) lives outside this core.
type Notifier interface {
	Notify(ctx context.Context, recipient *Contact, subject, body string) error
}

// NopDirectory satisfies Directory with empty contacts.
type NopDirectory struct{}

// Tenant implements Directory.
func (NopDirectory) Tenant(_ context.Context, id string) (*Contact, error) {
	return &Contact{ID: id}, nil
}

// Customer implements Directory.
func (NopDirectory) Customer(_ context.Context, id string) (*Contact, error) {
	return &Contact{ID: id}, nil
}

// NopNotifier satisfies Notifier by dropping notifications.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, *Contact, string, string) error { return nil }

// CloseRequest marks a request closed by support. Only non-in-flight
// requests can be closed.
func (s *FileService) CloseRequest(ctx context.Context, requestID string) error {
	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return apperrors.NewNotFoundError("request", requestID)
		}
		return err
	}
	if req.Status.InFlight() {
		return apperrors.NewInvalidParameterError("requestId",
			"cannot close a request with a pipeline stage running")
	}
	if err := s.requests.SetStatus(ctx, requestID, types.StatusClosed); err != nil {
		return err
	}
	// A closed request keeps its archived artifacts but frees its scratch dir.
	if req.ActiveJobID != nil {
		s.gateway.Cleanup(req.TenantID, *req.ActiveJobID)
	}
	return nil
}

// ReopenOnMessage handles chat activity on a request. A message arriving on a
// closed or delivered request flips it to reopened and notifies the customer;
// on any other status it is a no-op.
func (s *FileService) ReopenOnMessage(ctx context.Context, requestID, message string) error {
	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return apperrors.NewNotFoundError("request", requestID)
		}
		return err
	}

	if req.Status != types.StatusClosed && req.Status != types.StatusDelivered {
		return nil
	}

	if err := s.requests.SetStatus(ctx, requestID, types.StatusReopened); err != nil {
		return err
	}
	s.logger.WithField("request_id", requestID).Info("Request reopened by chat activity")

	customer, err := s.directory.Customer(ctx, req.CustomerID)
	if err != nil {
		s.logger.WithField("customer_id", req.CustomerID).WithError(err).
			Warn("Customer lookup failed, skipping reopen notification")
		return nil
	}
	if err := s.notifier.Notify(ctx, customer, "Your tuning request was reopened", message); err != nil {
		s.logger.WithField("request_id", requestID).WithError(err).
			Warn("Failed to send reopen notification")
	}
	return nil
}
