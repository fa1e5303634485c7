package procmon

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/natefinch/lumberjack"
)

// SetupLogging sends the default slog logger to stdout and to a rotating file at
// logPath. The returned closer flushes and closes the file.
func SetupLogging(logPath string, level slog.Level) (io.Closer, error) {
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create log dir %q: %w", dir, err)
	}
	fileLogger := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}
	mw := io.MultiWriter(os.Stdout, fileLogger)
	handler := slog.NewTextHandler(mw, &slog.HandlerOptions{AddSource: false, Level: level})
	slog.SetDefault(slog.New(handler))
	return fileLogger, nil
}

// CreatePIDFile refuses to run a second supervisor against the same pid file.
func CreatePIDFile(pidFile string) error {
	if _, err := os.Stat(pidFile); err == nil {
		return fmt.Errorf("PID file %s already exists; another instance may be running", pidFile)
	}
	pid := os.Getpid()
	if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d\n", pid)), 0o644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

func RemovePIDFile(pidFile string) {
	_ = os.Remove(pidFile)
}
