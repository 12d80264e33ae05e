// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"time"

	"github.com/NVIDIA/go-dcgm/pkg/dcgm"
	"github.com/stretchr/testify/mock"
)

// mockDCGM is a mock implementation of dcgmClient
type mockDCGM struct {
	mock.Mock
}

var _ dcgmClient = (*mockDCGM)(nil)

func (m *mockDCGM) InitEmbedded() (func(), error) {
	calledArgs := m.Called()
	return calledArgs.Get(0).(func()), calledArgs.Error(1)
}

func (m *mockDCGM) InitStandalone(address string) (func(), error) {
	calledArgs := m.Called(address)
	return calledArgs.Get(0).(func()), calledArgs.Error(1)
}

func (m *mockDCGM) WatchPidFieldsEx(updateFreq, maxKeepAge time.Duration, maxKeepSamples int, gpus ...uint) (dcgm.GroupHandle, error) {
	calledArgs := m.Called(updateFreq, maxKeepAge, maxKeepSamples, gpus)
	return calledArgs.Get(0).(dcgm.GroupHandle), calledArgs.Error(1)
}

func (m *mockDCGM) FieldGroupCreate(fieldsGroupName string, fields []dcgm.Short) (dcgm.FieldHandle, error) {
	calledArgs := m.Called(fieldsGroupName, fields)
	return calledArgs.Get(0).(dcgm.FieldHandle), calledArgs.Error(1)
}

func (m *mockDCGM) WatchFieldsWithGroup(fieldsGroup dcgm.FieldHandle, group dcgm.GroupHandle) error {
	calledArgs := m.Called(fieldsGroup, group)
	return calledArgs.Error(0)
}

func (m *mockDCGM) GetValuesSince(gpuGroup dcgm.GroupHandle, fieldGroup dcgm.FieldHandle, sinceTime time.Time) ([]dcgm.FieldValue_v2, time.Time, error) {
	calledArgs := m.Called(gpuGroup, fieldGroup, sinceTime)
	return calledArgs.Get(0).([]dcgm.FieldValue_v2), calledArgs.Get(1).(time.Time), calledArgs.Error(2)
}

func (m *mockDCGM) GetProcessInfo(group dcgm.GroupHandle, pid uint) ([]dcgm.ProcessInfo, error) {
	calledArgs := m.Called(group, pid)
	return calledArgs.Get(0).([]dcgm.ProcessInfo), calledArgs.Error(1)
}

func (m *mockDCGM) DestroyGroup(group dcgm.GroupHandle) error {
	calledArgs := m.Called(group)
	return calledArgs.Error(0)
}

func (m *mockDCGM) FieldGroupDestroy(fieldsGroup dcgm.FieldHandle) error {
	calledArgs := m.Called(fieldsGroup)
	return calledArgs.Error(0)
}
