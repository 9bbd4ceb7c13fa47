// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/noticescan/api/schemas"
	"github.com/xkilldash9x/noticescan/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	args := m.Called()
	return args.Get(0).(config.EngineConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Scan() config.ScanConfig {
	args := m.Called()
	return args.Get(0).(config.ScanConfig)
}

func (m *MockConfig) Filters() config.FiltersConfig {
	args := m.Called()
	return args.Get(0).(config.FiltersConfig)
}

func (m *MockConfig) Store() config.StoreConfig {
	args := m.Called()
	return args.Get(0).(config.StoreConfig)
}

func (m *MockConfig) Dataset() config.DatasetConfig {
	args := m.Called()
	return args.Get(0).(config.DatasetConfig)
}

// --- Setters ---

func (m *MockConfig) SetEngineWorkerConcurrency(w int) { m.Called(w) }
func (m *MockConfig) SetBrowserHeadless(b bool)        { m.Called(b) }
func (m *MockConfig) SetScanClick(b bool)              { m.Called(b) }
func (m *MockConfig) SetScanScreenshots(b bool)        { m.Called(b) }
func (m *MockConfig) SetStoreResultsDir(dir string)    { m.Called(dir) }
func (m *MockConfig) SetDataset(d config.DatasetConfig) {
	m.Called(d)
}

// -- Sink Mock --

// MockSink mocks the engine.Sink interface.
type MockSink struct {
	mock.Mock
}

// Save provides a mock function for persisting a scan result.
func (m *MockSink) Save(ctx context.Context, result *schemas.ScanResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}

// Close provides a mock function for releasing the sink.
func (m *MockSink) Close() error {
	args := m.Called()
	return args.Error(0)
}

// -- Scanner Mock --

// MockScanner mocks the engine.Scanner interface. When no expectation
// returns a result, a successful empty result for the target is returned.
type MockScanner struct {
	mock.Mock
}

// Scan provides a mock function for scanning one target.
func (m *MockScanner) Scan(ctx context.Context, target schemas.Target) *schemas.ScanResult {
	args := m.Called(ctx, target)
	if r, ok := args.Get(0).(*schemas.ScanResult); ok && r != nil {
		return r
	}
	return schemas.NewScanResult(target)
}
