package workers

import (
	"context"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/core-tools/hsu-master/pkg/control"
	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/logging"
	"github.com/core-tools/hsu-master/pkg/process"
	"github.com/core-tools/hsu-master/pkg/registry"
)

// MockLogger for testing
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

// fakeProcess exits when terminated, killed or crashed
type fakeProcess struct {
	pid    int
	onExit func()

	once sync.Once
	done chan struct{}
	exit process.ExitStatus
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, done: make(chan struct{})}
}

func (p *fakeProcess) PID() int          { return p.pid }
func (p *fakeProcess) Stdout() io.Reader { return nil }
func (p *fakeProcess) Stderr() io.Reader { return nil }

func (p *fakeProcess) Wait() process.ExitStatus {
	<-p.done
	return p.exit
}

func (p *fakeProcess) Terminate() error {
	p.finish(process.ExitStatus{Code: -1, Signaled: true})
	return nil
}

func (p *fakeProcess) Kill() error {
	p.finish(process.ExitStatus{Code: -1, Signaled: true})
	return nil
}

func (p *fakeProcess) Crash(code int) {
	p.finish(process.ExitStatus{Code: code})
}

func (p *fakeProcess) finish(exit process.ExitStatus) {
	p.once.Do(func() {
		if p.onExit != nil {
			p.onExit()
		}
		p.exit = exit
		close(p.done)
	})
}

// fakeSpawner hands out fake processes; onSpawn may attach behavior such as a gRPC server
type fakeSpawner struct {
	mutex    sync.Mutex
	nextPID  int
	failures []error
	spawned  []*fakeProcess
	configs  []process.ExecutionConfig
	onSpawn  func(config process.ExecutionConfig, proc *fakeProcess) error
}

func (s *fakeSpawner) Spawn(_ context.Context, config process.ExecutionConfig) (process.Process, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		if err != nil {
			return nil, err
		}
	}

	s.nextPID++
	proc := newFakeProcess(1000 + s.nextPID)
	if s.onSpawn != nil {
		if err := s.onSpawn(config, proc); err != nil {
			return nil, err
		}
	}
	s.spawned = append(s.spawned, proc)
	s.configs = append(s.configs, config)
	return proc, nil
}

func (s *fakeSpawner) last() *fakeProcess {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if len(s.spawned) == 0 {
		return nil
	}
	return s.spawned[len(s.spawned)-1]
}

func (s *fakeSpawner) count() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.spawned)
}

func (s *fakeSpawner) lastConfig() process.ExecutionConfig {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.configs[len(s.configs)-1]
}

type statusEvent struct {
	status registry.UnitStatus
	cause  error
}

// eventRecorder collects status and restart callbacks
type eventRecorder struct {
	mutex    sync.Mutex
	statuses []statusEvent
	restarts []string
}

func (r *eventRecorder) options(spawner process.Spawner) WorkerOptions {
	return WorkerOptions{
		Spawner: spawner,
		OnStatusChange: func(_ string, status registry.UnitStatus, cause error) {
			r.mutex.Lock()
			defer r.mutex.Unlock()
			r.statuses = append(r.statuses, statusEvent{status: status, cause: cause})
		},
		OnRestart: func(_ string, reason string) {
			r.mutex.Lock()
			defer r.mutex.Unlock()
			r.restarts = append(r.restarts, reason)
		},
	}
}

func (r *eventRecorder) statusList() []registry.UnitStatus {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	statuses := make([]registry.UnitStatus, 0, len(r.statuses))
	for _, event := range r.statuses {
		statuses = append(statuses, event.status)
	}
	return statuses
}

func (r *eventRecorder) lastStatus() (statusEvent, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if len(r.statuses) == 0 {
		return statusEvent{}, false
	}
	return r.statuses[len(r.statuses)-1], true
}

func (r *eventRecorder) restartList() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string(nil), r.restarts...)
}

const testEchoMethod = "/test.EchoService/Echo"

var testEchoServiceDesc = grpc.ServiceDesc{
	ServiceName: "test.EchoService",
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Echo",
			Handler: func(_ interface{}, _ context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
				request := &structpb.Struct{}
				if err := dec(request); err != nil {
					return nil, err
				}
				return request, nil
			},
		},
	},
}

// serveOnPortArg starts a gRPC server on the port passed after portArg; the
// server stops when the fake process exits
func serveOnPortArg(portArg string, serving bool) func(process.ExecutionConfig, *fakeProcess) error {
	return func(config process.ExecutionConfig, proc *fakeProcess) error {
		port := 0
		for i := 0; i+1 < len(config.Args); i++ {
			if config.Args[i] == portArg {
				port, _ = strconv.Atoi(config.Args[i+1])
			}
		}
		if port == 0 {
			return errors.NewValidationError("port argument missing", nil)
		}

		server, err := control.NewServer(control.ServerOptions{Port: port}, logging.NewNullLogger())
		if err != nil {
			return err
		}
		server.Registrar().RegisterService(&testEchoServiceDesc, struct{}{})
		server.SetServing(serving)
		server.Run()

		proc.onExit = func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			server.Stop(ctx)
		}
		return nil
	}
}

func requireEventually(t *testing.T, condition func() bool, msg string) {
	t.Helper()
	require.Eventually(t, condition, 5*time.Second, 10*time.Millisecond, msg)
}
