package master

import (
	"go.uber.org/zap"

	"github.com/core-tools/hsu-master/pkg/logcollection"
	"github.com/core-tools/hsu-master/pkg/logging"
)

// LogCollectionIntegration handles log collection setup and teardown for the master service
type LogCollectionIntegration struct {
	service logcollection.LogCollectionService
	logger  logging.Logger
	enabled bool
}

// NewLogCollectionIntegration creates the unit output sink. A missing configuration section
// enables collection with defaults; an explicitly disabled one leaves unit output discarded.
func NewLogCollectionIntegration(logConfig *logcollection.LogCollectionConfig, zapLogger *zap.Logger, logger logging.Logger) *LogCollectionIntegration {
	integration := &LogCollectionIntegration{
		logger: logger,
	}

	if logConfig == nil {
		defaultConfig := logcollection.DefaultLogCollectionConfig()
		logConfig = &defaultConfig
		logger.Infof("No log_collection section found in config, using default log collection configuration")
	} else if !logConfig.Enabled {
		logger.Debugf("Log collection is explicitly disabled in configuration")
		return integration
	}

	if zapLogger == nil {
		zapLogger = zap.NewNop()
	}
	integration.service = logcollection.NewLogCollectionService(*logConfig, zapLogger.Named("units"))
	integration.enabled = true

	logger.Infof("Log collection initialized, file_output: %t, directory: %s, max_size_mb: %d, max_backups: %d",
		logConfig.FileOutput, logConfig.Directory, logConfig.MaxSizeMB, logConfig.MaxBackups)
	return integration
}

func (i *LogCollectionIntegration) IsEnabled() bool {
	return i.enabled
}

// GetLogCollectionService returns nil when collection is disabled
func (i *LogCollectionIntegration) GetLogCollectionService() logcollection.LogCollectionService {
	return i.service
}

// Stop flushes and closes every unit collector
func (i *LogCollectionIntegration) Stop() {
	if !i.enabled {
		return
	}
	if err := i.service.Stop(); err != nil {
		i.logger.Warnf("Log collection stop failed: %v", err)
		return
	}
	i.logger.Infof("Log collection stopped")
}
