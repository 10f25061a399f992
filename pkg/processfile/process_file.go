package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/logging"
)

const DefaultAppName = "hsu-master"

// ProcessFileConfig controls where unit PID and port files live
type ProcessFileConfig struct {
	// Base directory for process files. If empty, uses OS-appropriate default
	BaseDirectory string `yaml:"base_directory,omitempty"`

	ServiceContext ServiceContext `yaml:"service_context,omitempty"`

	AppName string `yaml:"app_name,omitempty"`

	// Create subdirectory named after the app
	UseSubdirectory bool `yaml:"use_subdirectory,omitempty"`
}

type ServiceContext string

const (
	SystemService  ServiceContext = "system"
	UserService    ServiceContext = "user"
	SessionService ServiceContext = "session"
)

// ProcessFileManager writes and reads per-unit PID and port files
type ProcessFileManager struct {
	config ProcessFileConfig
	logger logging.Logger
}

func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.ServiceContext == "" {
		config.ServiceContext = SystemService
	}
	return &ProcessFileManager{
		config: config,
		logger: logger,
	}
}

// Directory returns the directory holding all process files
func (m *ProcessFileManager) Directory() string {
	baseDir := m.baseDirectory()
	if m.config.UseSubdirectory {
		baseDir = filepath.Join(baseDir, m.config.AppName)
	}
	return baseDir
}

func (m *ProcessFileManager) GeneratePIDFilePath(unitID string) string {
	return filepath.Join(m.Directory(), unitID+".pid")
}

func (m *ProcessFileManager) GeneratePortFilePath(unitID string) string {
	return filepath.Join(m.Directory(), unitID+".port")
}

func (m *ProcessFileManager) WritePIDFile(unitID string, pid int) error {
	return m.writeIntFile(unitID, "pid", m.GeneratePIDFilePath(unitID), pid)
}

func (m *ProcessFileManager) WritePortFile(unitID string, port int) error {
	return m.writeIntFile(unitID, "port", m.GeneratePortFilePath(unitID), port)
}

func (m *ProcessFileManager) ReadPIDFile(unitID string) (int, error) {
	return ReadIntFile(m.GeneratePIDFilePath(unitID))
}

func (m *ProcessFileManager) ReadPortFile(unitID string) (int, error) {
	return ReadIntFile(m.GeneratePortFilePath(unitID))
}

// RemoveFiles deletes the unit's PID and port files, ignoring files that do not exist
func (m *ProcessFileManager) RemoveFiles(unitID string) error {
	errs := errors.NewErrorCollection()
	for _, path := range []string{m.GeneratePIDFilePath(unitID), m.GeneratePortFilePath(unitID)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs.Add(errors.NewIOError("failed to remove process file", err).WithContext("path", path))
		}
	}
	return errs.ToError()
}

func (m *ProcessFileManager) writeIntFile(unitID, kind, path string, value int) error {
	m.logger.Debugf("Writing %s file, id: %s, value: %d, path: %s", kind, unitID, value, path)

	if err := EnsureDirectory(path); err != nil {
		m.logger.Errorf("Process file directory validation failed, id: %s, path: %s, error: %v", unitID, path, err)
		return err
	}

	content := []byte(strconv.Itoa(value) + "\n")
	if err := writeFileAtomic(path, content); err != nil {
		m.logger.Errorf("Failed to write %s file, id: %s, path: %s, error: %v", kind, unitID, path, err)
		return errors.NewIOError(fmt.Sprintf("failed to write %s file", kind), err).
			WithContext("path", path).
			WithContext("id", unitID)
	}

	m.logger.Infof("Process file written, id: %s, kind: %s, value: %d, path: %s", unitID, kind, value, path)
	return nil
}

// ReadIntFile parses a file holding a single integer, as written for PIDs and ports
func ReadIntFile(path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewNotFoundError("process file not found", err).WithContext("path", path)
		}
		return 0, errors.NewIOError("failed to read process file", err).WithContext("path", path)
	}

	text := strings.TrimSpace(string(content))
	value, err := strconv.Atoi(text)
	if err != nil {
		return 0, errors.NewValidationError("invalid process file content", err).
			WithContext("path", path).
			WithContext("content", text)
	}
	if value <= 0 {
		return 0, errors.NewValidationError("process file value must be positive", nil).
			WithContext("path", path).
			WithContext("value", value)
	}
	return value, nil
}

// EnsureDirectory creates the parent directory of path when missing and checks it is a directory
func EnsureDirectory(path string) error {
	dir := filepath.Dir(path)

	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.NewIOError("failed to access process file directory", err).WithContext("directory", dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewIOError("failed to create process file directory", err).WithContext("directory", dir)
		}
		return nil
	}
	if !info.IsDir() {
		return errors.NewValidationError("process file directory path is not a directory", nil).WithContext("path", dir)
	}
	return nil
}

func (m *ProcessFileManager) baseDirectory() string {
	if m.config.BaseDirectory != "" {
		return m.config.BaseDirectory
	}

	switch m.config.ServiceContext {
	case UserService:
		return userServiceDirectory()
	case SessionService:
		return sessionServiceDirectory()
	default:
		return systemServiceDirectory()
	}
}

func systemServiceDirectory() string {
	switch runtime.GOOS {
	case "windows":
		if programData := os.Getenv("PROGRAMDATA"); programData != "" {
			return programData
		}
		return "C:\\ProgramData"
	case "darwin":
		return "/var/run"
	default:
		if _, err := os.Stat("/run"); err == nil {
			return "/run"
		}
		return "/var/run"
	}
}

func userServiceDirectory() string {
	switch runtime.GOOS {
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return localAppData
		}
		return os.TempDir()
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return os.TempDir()
		}
		return filepath.Join(homeDir, "Library", "Application Support")
	default:
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			return runtimeDir
		}
		return os.TempDir()
	}
}

func sessionServiceDirectory() string {
	if runtime.GOOS == "linux" {
		sessionDir := fmt.Sprintf("/run/user/%d", os.Getuid())
		if _, err := os.Stat(sessionDir); err == nil {
			return sessionDir
		}
	}
	return os.TempDir()
}

// GetRecommendedProcessFileConfig returns the process file layout for a deployment scenario
func GetRecommendedProcessFileConfig(scenario string, appName string) ProcessFileConfig {
	if appName == "" {
		appName = DefaultAppName
	}

	switch strings.ToLower(scenario) {
	case "user", "personal":
		return ProcessFileConfig{ServiceContext: UserService, AppName: appName, UseSubdirectory: true}
	case "session", "desktop":
		return ProcessFileConfig{ServiceContext: SessionService, AppName: appName}
	case "development", "dev", "test":
		return ProcessFileConfig{
			BaseDirectory:  filepath.Join(os.TempDir(), appName+"-dev"),
			ServiceContext: UserService,
			AppName:        appName,
		}
	default:
		return ProcessFileConfig{ServiceContext: SystemService, AppName: appName, UseSubdirectory: true}
	}
}
