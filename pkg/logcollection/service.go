package logcollection

import (
	"bufio"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/core-tools/hsu-master/pkg/errors"
)

type logCollectionService struct {
	config LogCollectionConfig
	logger *zap.Logger

	mu      sync.Mutex
	units   map[string]*unitLogCollector
	stopped bool

	wg sync.WaitGroup
}

// NewLogCollectionService creates the service; logger receives every captured line
func NewLogCollectionService(config LogCollectionConfig, logger *zap.Logger) LogCollectionService {
	config.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &logCollectionService{
		config: config,
		logger: logger.With(zap.String("component", "log_collection")),
		units:  make(map[string]*unitLogCollector),
	}
}

func (s *logCollectionService) RegisterUnit(unitID string, unitConfig UnitLogConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errors.NewConflictError("log collection service is stopped", nil).WithContext("id", unitID)
	}
	if _, exists := s.units[unitID]; exists {
		return errors.NewConflictError("unit already registered for log collection", nil).WithContext("id", unitID)
	}

	s.units[unitID] = s.newUnitLogCollector(unitID, unitConfig)
	return nil
}

func (s *logCollectionService) UnregisterUnit(unitID string) error {
	s.mu.Lock()
	collector, exists := s.units[unitID]
	delete(s.units, unitID)
	s.mu.Unlock()

	if !exists {
		return errors.NewNotFoundError("unit not registered for log collection", nil).WithContext("id", unitID)
	}
	return collector.close()
}

func (s *logCollectionService) CollectFromStream(unitID string, stream io.Reader, streamType StreamType) error {
	if stream == nil {
		return errors.NewValidationError("stream cannot be nil", nil).WithContext("id", unitID)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return errors.NewConflictError("log collection service is stopped", nil).WithContext("id", unitID)
	}
	collector, exists := s.units[unitID]
	if !exists {
		collector = s.newUnitLogCollector(unitID, UnitLogConfig{})
		s.units[unitID] = collector
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		collector.readStream(stream, streamType, s.config.MaxLineLength)
	}()
	return nil
}

func (s *logCollectionService) GetUnitStatus(unitID string) (*UnitLogStatus, error) {
	s.mu.Lock()
	collector, exists := s.units[unitID]
	s.mu.Unlock()

	if !exists {
		return nil, errors.NewNotFoundError("unit not registered for log collection", nil).WithContext("id", unitID)
	}
	return collector.status(), nil
}

func (s *logCollectionService) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	units := s.units
	s.units = make(map[string]*unitLogCollector)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.config.DrainTimeout):
		s.logger.Warn("Log collection readers still draining at stop", zap.Duration("timeout", s.config.DrainTimeout))
	}

	errs := errors.NewErrorCollection()
	for _, collector := range units {
		errs.Add(collector.close())
	}
	_ = s.logger.Sync()
	return errs.ToError()
}

func (s *logCollectionService) newUnitLogCollector(unitID string, unitConfig UnitLogConfig) *unitLogCollector {
	collector := &unitLogCollector{
		unitID:   unitID,
		disabled: unitConfig.Disabled || !s.config.Enabled,
		logger:   s.logger.With(zap.String("unit_id", unitID)),
	}

	if s.config.FileOutput && !collector.disabled {
		path := s.config.unitFilePath(unitID, unitConfig)
		collector.file = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    s.config.MaxSizeMB,
			MaxBackups: s.config.MaxBackups,
			MaxAge:     s.config.MaxAgeDays,
			Compress:   s.config.Compress,
		}
		collector.filePath = path
	}
	return collector
}

type unitLogCollector struct {
	unitID   string
	disabled bool
	logger   *zap.Logger

	fileMu   sync.Mutex
	file     *lumberjack.Logger
	filePath string

	activeReaders  int32
	linesProcessed int64
	bytesProcessed int64
	errorCount     int64

	statusMu     sync.Mutex
	lastActivity time.Time
	lastError    string
}

func (c *unitLogCollector) readStream(stream io.Reader, streamType StreamType, maxLineLength int) {
	atomic.AddInt32(&c.activeReaders, 1)
	defer atomic.AddInt32(&c.activeReaders, -1)

	level := zapcore.InfoLevel
	if streamType == StreamStderr {
		level = zapcore.WarnLevel
	}

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, min(4096, maxLineLength)), maxLineLength)

	for scanner.Scan() {
		line := scanner.Text()
		atomic.AddInt64(&c.linesProcessed, 1)
		atomic.AddInt64(&c.bytesProcessed, int64(len(line)))

		c.statusMu.Lock()
		c.lastActivity = time.Now()
		c.statusMu.Unlock()

		if c.disabled {
			continue
		}
		if ce := c.logger.Check(level, line); ce != nil {
			ce.Write(zap.String("stream", string(streamType)))
		}
		c.writeFile(streamType, line)
	}

	if err := scanner.Err(); err != nil {
		c.recordError(err)
		c.logger.Warn("Unit output capture stopped", zap.String("stream", string(streamType)), zap.Error(err))
		// keep the pipe drained so the child never blocks on a full buffer
		_, _ = io.Copy(io.Discard, stream)
	}
}

func (c *unitLogCollector) writeFile(streamType StreamType, line string) {
	c.fileMu.Lock()
	defer c.fileMu.Unlock()
	// closed by UnregisterUnit while readers may still be draining
	if c.file == nil {
		return
	}

	entry := time.Now().UTC().Format(time.RFC3339Nano) + " [" + string(streamType) + "] " + line + "\n"
	if _, err := c.file.Write([]byte(entry)); err != nil {
		c.recordError(err)
	}
}

func (c *unitLogCollector) recordError(err error) {
	atomic.AddInt64(&c.errorCount, 1)
	c.statusMu.Lock()
	c.lastError = err.Error()
	c.statusMu.Unlock()
}

func (c *unitLogCollector) status() *UnitLogStatus {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return &UnitLogStatus{
		UnitID:         c.unitID,
		Active:         atomic.LoadInt32(&c.activeReaders) > 0,
		LinesProcessed: atomic.LoadInt64(&c.linesProcessed),
		BytesProcessed: atomic.LoadInt64(&c.bytesProcessed),
		LastActivity:   c.lastActivity,
		ErrorCount:     atomic.LoadInt64(&c.errorCount),
		LastError:      c.lastError,
		FilePath:       c.filePath,
	}
}

func (c *unitLogCollector) close() error {
	c.fileMu.Lock()
	defer c.fileMu.Unlock()
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	if err != nil {
		return errors.NewIOError("failed to close unit log file", err).WithContext("id", c.unitID)
	}
	return nil
}
