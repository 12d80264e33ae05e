// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/wattline/wattline/internal/telemetry"
)

// MockClient is a mock implementation of Client for tests
type MockClient struct {
	mock.Mock
}

var _ Client = (*MockClient)(nil)

func (m *MockClient) Purge() error {
	calledArgs := m.Called()
	return calledArgs.Error(0)
}

func (m *MockClient) Start(pid int, period time.Duration) error {
	calledArgs := m.Called(pid, period)
	return calledArgs.Error(0)
}

func (m *MockClient) Stop(pid int) error {
	calledArgs := m.Called(pid)
	return calledArgs.Error(0)
}

func (m *MockClient) Read(pid int, signals []string) (*telemetry.Report, error) {
	calledArgs := m.Called(pid, signals)
	if calledArgs.Get(0) == nil {
		return nil, calledArgs.Error(1)
	}
	return calledArgs.Get(0).(*telemetry.Report), calledArgs.Error(1)
}

func (m *MockClient) Dump(pid int, path string, signals []string) error {
	calledArgs := m.Called(pid, path, signals)
	return calledArgs.Error(0)
}
