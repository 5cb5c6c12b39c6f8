package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/subscription-manager/internal/models"
)

type MockSubscriptionUsage struct {
	mock.Mock
}

func (m *MockSubscriptionUsage) ListDueForUsageReset(ctx context.Context) ([]*models.Subscription, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Subscription), args.Error(1)
}

func (m *MockSubscriptionUsage) ResetMonthlyUsage(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestSchedulerService_runUsageReset(t *testing.T) {
	due := []*models.Subscription{
		{ID: "sub-1", Status: models.StatusActive},
		{ID: "sub-2", Status: models.StatusActive},
	}

	tests := []struct {
		name       string
		setupMocks func(*MockSubscriptionUsage)
	}{
		{
			name: "resets every due subscription",
			setupMocks: func(m *MockSubscriptionUsage) {
				m.On("ListDueForUsageReset", mock.Anything).Return(due, nil).Once()
				m.On("ResetMonthlyUsage", mock.Anything, "sub-1").Return(due[0], nil).Once()
				m.On("ResetMonthlyUsage", mock.Anything, "sub-2").Return(due[1], nil).Once()
			},
		},
		{
			name: "nothing due",
			setupMocks: func(m *MockSubscriptionUsage) {
				m.On("ListDueForUsageReset", mock.Anything).Return([]*models.Subscription{}, nil).Once()
			},
		},
		{
			name: "list failure skips the pass",
			setupMocks: func(m *MockSubscriptionUsage) {
				m.On("ListDueForUsageReset", mock.Anything).Return(nil, errors.New("db down")).Once()
			},
		},
		{
			name: "one failed reset does not stop the pass",
			setupMocks: func(m *MockSubscriptionUsage) {
				m.On("ListDueForUsageReset", mock.Anything).Return(due, nil).Once()
				m.On("ResetMonthlyUsage", mock.Anything, "sub-1").Return(nil, errors.New("timeout")).Once()
				m.On("ResetMonthlyUsage", mock.Anything, "sub-2").Return(due[1], nil).Once()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subs := new(MockSubscriptionUsage)
			tt.setupMocks(subs)

			svc := NewSchedulerService(subs, newNoopLogger())
			svc.runUsageReset(context.Background())

			subs.AssertExpectations(t)
		})
	}
}

func TestSchedulerService_RunUsageReset_StopsOnContextCancel(t *testing.T) {
	subs := new(MockSubscriptionUsage)
	subs.On("ListDueForUsageReset", mock.Anything).Return([]*models.Subscription{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc := NewSchedulerService(subs, newNoopLogger())
		svc.RunUsageReset(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}
}
