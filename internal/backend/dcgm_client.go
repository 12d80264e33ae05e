// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"time"

	"github.com/NVIDIA/go-dcgm/pkg/dcgm"
)

// dcgmClient is the slice of the DCGM library the nvml source uses, behind
// an interface so tests can mock it. dcgm.Init takes an unexported mode
// type, so each connection mode gets its own method.
type dcgmClient interface {
	InitEmbedded() (cleanup func(), err error)
	InitStandalone(address string) (cleanup func(), err error)
	WatchPidFieldsEx(updateFreq, maxKeepAge time.Duration, maxKeepSamples int, gpus ...uint) (dcgm.GroupHandle, error)
	FieldGroupCreate(fieldsGroupName string, fields []dcgm.Short) (dcgm.FieldHandle, error)
	WatchFieldsWithGroup(fieldsGroup dcgm.FieldHandle, group dcgm.GroupHandle) error
	GetValuesSince(gpuGroup dcgm.GroupHandle, fieldGroup dcgm.FieldHandle, sinceTime time.Time) ([]dcgm.FieldValue_v2, time.Time, error)
	GetProcessInfo(group dcgm.GroupHandle, pid uint) ([]dcgm.ProcessInfo, error)
	DestroyGroup(group dcgm.GroupHandle) error
	FieldGroupDestroy(fieldsGroup dcgm.FieldHandle) error
}

// defaultDCGM forwards to the real DCGM library
type defaultDCGM struct{}

func (defaultDCGM) InitEmbedded() (func(), error) {
	return dcgm.Init(dcgm.Embedded)
}

func (defaultDCGM) InitStandalone(address string) (func(), error) {
	return dcgm.Init(dcgm.Standalone, address, "0")
}

func (defaultDCGM) WatchPidFieldsEx(updateFreq, maxKeepAge time.Duration, maxKeepSamples int, gpus ...uint) (dcgm.GroupHandle, error) {
	return dcgm.WatchPidFieldsEx(updateFreq, maxKeepAge, maxKeepSamples, gpus...)
}

func (defaultDCGM) FieldGroupCreate(fieldsGroupName string, fields []dcgm.Short) (dcgm.FieldHandle, error) {
	return dcgm.FieldGroupCreate(fieldsGroupName, fields)
}

func (defaultDCGM) WatchFieldsWithGroup(fieldsGroup dcgm.FieldHandle, group dcgm.GroupHandle) error {
	return dcgm.WatchFieldsWithGroup(fieldsGroup, group)
}

func (defaultDCGM) GetValuesSince(gpuGroup dcgm.GroupHandle, fieldGroup dcgm.FieldHandle, sinceTime time.Time) ([]dcgm.FieldValue_v2, time.Time, error) {
	return dcgm.GetValuesSince(gpuGroup, fieldGroup, sinceTime)
}

func (defaultDCGM) GetProcessInfo(group dcgm.GroupHandle, pid uint) ([]dcgm.ProcessInfo, error) {
	return dcgm.GetProcessInfo(group, pid)
}

func (defaultDCGM) DestroyGroup(group dcgm.GroupHandle) error {
	return dcgm.DestroyGroup(group)
}

func (defaultDCGM) FieldGroupDestroy(fieldsGroup dcgm.FieldHandle) error {
	return dcgm.FieldGroupDestroy(fieldsGroup)
}

// dcgmLib is the library instance the nvml source calls; tests swap it
var dcgmLib dcgmClient = defaultDCGM{}
