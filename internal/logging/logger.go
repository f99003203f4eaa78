// Package logging provides unified logging infrastructure for gpubridge
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Logger wraps the standard logger with file output
type Logger struct {
	*log.Logger
	file *os.File
	mu   sync.Mutex
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Initialize sets up the logging system with file output
func Initialize(logDir string) error {
	var initErr error
	once.Do(func() {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}

		logPath := filepath.Join(logDir, "gpubridge.log")
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			initErr = fmt.Errorf("failed to open log file: %w", err)
			return
		}

		// Mirror everything to stdout and the log file
		multiWriter := io.MultiWriter(os.Stdout, file)

		defaultLogger = &Logger{
			Logger: log.New(multiWriter, "", log.LstdFlags|log.Lshortfile),
			file:   file,
		}

		// Replace default logger so packages using log.Printf pick it up
		log.SetOutput(multiWriter)
		log.SetFlags(log.LstdFlags | log.Lshortfile)

		log.Printf("Logging initialized: %s", logPath)
	})
	return initErr
}

// Close closes the log file
func Close() error {
	if defaultLogger != nil && defaultLogger.file != nil {
		return defaultLogger.file.Close()
	}
	return nil
}

// Printf logs a formatted message
func Printf(format string, v ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Printf(format, v...)
	} else {
		log.Printf(format, v...)
	}
}

// Error logs an error message
func Error(format string, v ...interface{}) {
	msg := fmt.Sprintf("[ERROR] "+format, v...)
	if defaultLogger != nil {
		defaultLogger.Println(msg)
	} else {
		log.Println(msg)
	}
}

// Warning logs a warning message
func Warning(format string, v ...interface{}) {
	msg := fmt.Sprintf("[WARN] "+format, v...)
	if defaultLogger != nil {
		defaultLogger.Println(msg)
	} else {
		log.Println(msg)
	}
}

// Debug logs a debug message (only in development mode)
func Debug(format string, v ...interface{}) {
	if os.Getenv("DEBUG") == "true" {
		msg := fmt.Sprintf("[DEBUG] "+format, v...)
		if defaultLogger != nil {
			defaultLogger.Println(msg)
		} else {
			log.Println(msg)
		}
	}
}
