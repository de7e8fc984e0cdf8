// Package mocks provides test doubles for the store.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	model "github.com/sells-group/salescycle/internal/model"
	store "github.com/sells-group/salescycle/internal/store"
)

// MockStore is a mock type for the Store interface.
type MockStore struct {
	mock.Mock
}

// LoadSnapshot provides a mock function with given fields: ctx
func (_m *MockStore) LoadSnapshot(ctx context.Context) (*model.Snapshot, error) {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for LoadSnapshot")
	}

	var r0 *model.Snapshot
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context) (*model.Snapshot, error)); ok {
		return rf(ctx)
	}
	if rf, ok := ret.Get(0).(func(context.Context) *model.Snapshot); ok {
		r0 = rf(ctx)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*model.Snapshot)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context) error); ok {
		r1 = rf(ctx)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// SaveSnapshot provides a mock function with given fields: ctx, snap
func (_m *MockStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	ret := _m.Called(ctx, snap)

	if len(ret) == 0 {
		panic("no return value specified for SaveSnapshot")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, *model.Snapshot) error); ok {
		r0 = rf(ctx, snap)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// SaveCycles provides a mock function with given fields: ctx, runID, cycles
func (_m *MockStore) SaveCycles(ctx context.Context, runID string, cycles []model.Cycle) error {
	ret := _m.Called(ctx, runID, cycles)

	if len(ret) == 0 {
		panic("no return value specified for SaveCycles")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, string, []model.Cycle) error); ok {
		r0 = rf(ctx, runID, cycles)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// LoadCycles provides a mock function with given fields: ctx
func (_m *MockStore) LoadCycles(ctx context.Context) ([]model.Cycle, error) {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for LoadCycles")
	}

	var r0 []model.Cycle
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context) ([]model.Cycle, error)); ok {
		return rf(ctx)
	}
	if rf, ok := ret.Get(0).(func(context.Context) []model.Cycle); ok {
		r0 = rf(ctx)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]model.Cycle)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context) error); ok {
		r1 = rf(ctx)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// StartRun provides a mock function with given fields: ctx, source
func (_m *MockStore) StartRun(ctx context.Context, source string) (*model.Run, error) {
	ret := _m.Called(ctx, source)

	if len(ret) == 0 {
		panic("no return value specified for StartRun")
	}

	var r0 *model.Run
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*model.Run, error)); ok {
		return rf(ctx, source)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) *model.Run); ok {
		r0 = rf(ctx, source)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*model.Run)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, source)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// CompleteRun provides a mock function with given fields: ctx, runID, stats
func (_m *MockStore) CompleteRun(ctx context.Context, runID string, stats *model.RunStats) error {
	ret := _m.Called(ctx, runID, stats)

	if len(ret) == 0 {
		panic("no return value specified for CompleteRun")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, string, *model.RunStats) error); ok {
		r0 = rf(ctx, runID, stats)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// FailRun provides a mock function with given fields: ctx, runID, msg
func (_m *MockStore) FailRun(ctx context.Context, runID string, msg string) error {
	ret := _m.Called(ctx, runID, msg)

	if len(ret) == 0 {
		panic("no return value specified for FailRun")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string) error); ok {
		r0 = rf(ctx, runID, msg)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// ListRuns provides a mock function with given fields: ctx, filter
func (_m *MockStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	ret := _m.Called(ctx, filter)

	if len(ret) == 0 {
		panic("no return value specified for ListRuns")
	}

	var r0 []model.Run
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, store.RunFilter) ([]model.Run, error)); ok {
		return rf(ctx, filter)
	}
	if rf, ok := ret.Get(0).(func(context.Context, store.RunFilter) []model.Run); ok {
		r0 = rf(ctx, filter)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]model.Run)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, store.RunFilter) error); ok {
		r1 = rf(ctx, filter)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Migrate provides a mock function with given fields: ctx
func (_m *MockStore) Migrate(ctx context.Context) error {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for Migrate")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context) error); ok {
		r0 = rf(ctx)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// Close provides a mock function with no fields
func (_m *MockStore) Close() error {
	ret := _m.Called()

	if len(ret) == 0 {
		panic("no return value specified for Close")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func() error); ok {
		r0 = rf()
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// NewMockStore creates a new instance of MockStore.
func NewMockStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockStore {
	mock := &MockStore{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}

var _ store.Store = (*MockStore)(nil)
