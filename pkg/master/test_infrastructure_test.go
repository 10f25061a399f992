package master

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/core-tools/hsu-master/pkg/control"
	"github.com/core-tools/hsu-master/pkg/domain"
	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/logging"
	"github.com/core-tools/hsu-master/pkg/workers"
	"github.com/core-tools/hsu-master/pkg/workers/processcontrol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// MockLogger is a mock implementation of Logger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) LogLevelf(level int, format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Debugf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Infof(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Warnf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Errorf(format string, args ...interface{}) {
	m.Called(format, args)
}

func newMockLogger() *MockLogger {
	logger := &MockLogger{}
	logger.On("LogLevelf", mock.Anything, mock.Anything).Maybe()
	logger.On("Debugf", mock.Anything, mock.Anything).Maybe()
	logger.On("Infof", mock.Anything, mock.Anything).Maybe()
	logger.On("Warnf", mock.Anything, mock.Anything).Maybe()
	logger.On("Errorf", mock.Anything, mock.Anything).Maybe()
	return logger
}

// eventLog records start and stop calls across workers in the order they happen
type eventLog struct {
	mutex  sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) list() []string {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]string(nil), l.events...)
}

// indexOf returns the position of event, or -1
func (l *eventLog) indexOf(event string) int {
	for i, e := range l.list() {
		if e == event {
			return i
		}
	}
	return -1
}

func (l *eventLog) count(event string) int {
	n := 0
	for _, e := range l.list() {
		if e == event {
			n++
		}
	}
	return n
}

// fakeWorker owns a pretend process: it implements Lifecycle and HealthChecker
type fakeWorker struct {
	id       string
	metadata workers.UnitMetadata
	log      *eventLog

	mutex      sync.Mutex
	startErr   error
	restartErr error
	health     func(ctx context.Context) error
	restarts   int

	// stopRelease makes Stop hang, ignoring its context, until closed
	stopRelease chan struct{}
}

func newFakeWorker(id string, log *eventLog, dependsOn ...string) *fakeWorker {
	return &fakeWorker{
		id:       id,
		metadata: workers.UnitMetadata{Name: id, DependsOn: dependsOn},
		log:      log,
	}
}

func (w *fakeWorker) required() *fakeWorker {
	w.metadata.Required = true
	return w
}

func (w *fakeWorker) failStart(err error) *fakeWorker {
	w.startErr = err
	return w
}

func (w *fakeWorker) setHealth(health func(ctx context.Context) error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.health = health
}

// hangOnStop makes Stop block until the test finishes
func (w *fakeWorker) hangOnStop(t *testing.T) {
	w.stopRelease = make(chan struct{})
	t.Cleanup(func() { close(w.stopRelease) })
}

func (w *fakeWorker) ID() string                     { return w.id }
func (w *fakeWorker) Kind() domain.UnitKind          { return domain.UnitKindManaged }
func (w *fakeWorker) Metadata() workers.UnitMetadata { return w.metadata }

func (w *fakeWorker) Diagnostics() processcontrol.ProcessDiagnostics {
	return processcontrol.ProcessDiagnostics{Restarts: w.restartCount()}
}

func (w *fakeWorker) Info() workers.WorkerInfo {
	return workers.WorkerInfo{PID: 4242, Restarts: w.restartCount()}
}

func (w *fakeWorker) Start(ctx context.Context) error {
	w.log.add("start:" + w.id)
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.startErr
}

func (w *fakeWorker) Stop(ctx context.Context) error {
	w.log.add("stop:" + w.id)
	if w.stopRelease != nil {
		<-w.stopRelease
	}
	return nil
}

func (w *fakeWorker) Restart(ctx context.Context) error {
	w.log.add("restart:" + w.id)
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.restartErr != nil {
		return w.restartErr
	}
	w.restarts++
	return nil
}

func (w *fakeWorker) CheckHealth(ctx context.Context) error {
	w.mutex.Lock()
	health := w.health
	w.mutex.Unlock()
	if health == nil {
		return nil
	}
	return health(ctx)
}

func (w *fakeWorker) restartCount() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.restarts
}

// fakeCallerWorker additionally accepts business calls, echoing the request back
type fakeCallerWorker struct {
	*fakeWorker
}

func (w *fakeCallerWorker) Kind() domain.UnitKind { return domain.UnitKindIntegrated }

func (w *fakeCallerWorker) Ping(ctx context.Context) error { return nil }

func (w *fakeCallerWorker) Call(ctx context.Context, method string, request *structpb.Struct, timeout time.Duration) (*structpb.Struct, error) {
	if method != "Echo" {
		return nil, errors.NewApplicationError("unknown method", nil).WithContext("method", method)
	}
	return request, nil
}

func (w *fakeCallerWorker) Gateway() control.Gateway { return nil }

// fakeObservedWorker is a unit the master neither owns nor discovers
type fakeObservedWorker struct {
	id string
}

func (w *fakeObservedWorker) ID() string                     { return w.id }
func (w *fakeObservedWorker) Kind() domain.UnitKind          { return domain.UnitKindUnmanaged }
func (w *fakeObservedWorker) Metadata() workers.UnitMetadata { return workers.UnitMetadata{Name: w.id} }
func (w *fakeObservedWorker) Info() workers.WorkerInfo       { return workers.WorkerInfo{} }

func newTestMaster(t *testing.T, options MasterOptions, units ...workers.Worker) *Master {
	t.Helper()
	m := NewMaster(options, logging.NewNullLogger())
	for _, unit := range units {
		require.NoError(t, m.AddWorker(unit))
	}
	return m
}

// startTestMaster starts m and stops it when the test ends
func startTestMaster(t *testing.T, m *Master) {
	t.Helper()
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Stop(ctx)
	})
}

func requireEventually(t *testing.T, condition func() bool, msg string) {
	t.Helper()
	require.Eventually(t, condition, 5*time.Second, 10*time.Millisecond, msg)
}
