// -----------------------------------------------------------------------
// Crash Protection - Fatal error handling and crash file generation
// -----------------------------------------------------------------------

package common

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// CrashLogDir is the directory where crash files will be written.
// InitLogger points it at the log directory when file output is enabled.
var CrashLogDir = "./logs"

// WriteCrashFile writes a crash report (panic value, stacks, runtime stats)
// and returns its path, or "" when the file could not be written.
func WriteCrashFile(panicVal interface{}, stackTrace string) string {
	now := time.Now()
	crashPath := filepath.Join(CrashLogDir, fmt.Sprintf("crash-%s.log", now.Format("2006-01-02T15-04-05")))

	var report bytes.Buffer
	fmt.Fprintf(&report, "=== DRACMA CRASH REPORT ===\nTime: %s\nVersion: %s\n\n", now.Format(time.RFC3339), GetFullVersion())
	fmt.Fprintf(&report, "=== PANIC VALUE ===\n%v\n\n", panicVal)
	fmt.Fprintf(&report, "=== STACK TRACE ===\n%s\n", stackTrace)
	fmt.Fprintf(&report, "=== ALL GOROUTINES ===\n%s\n", GetAllGoroutineStacks())

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	fmt.Fprintf(&report, "=== SYSTEM INFO ===\nNumGoroutine: %d\nGOOS: %s\nGOARCH: %s\nAlloc: %d MB\nSys: %d MB\n",
		runtime.NumGoroutine(), runtime.GOOS, runtime.GOARCH, memStats.Alloc/1024/1024, memStats.Sys/1024/1024)

	if err := os.MkdirAll(CrashLogDir, 0755); err == nil {
		err = os.WriteFile(crashPath, report.Bytes(), 0644)
		if err == nil {
			fmt.Fprintf(os.Stderr, "\n!!! FATAL CRASH - Report saved to: %s !!!\nPanic: %v\n", crashPath, panicVal)
			return crashPath
		}
	}

	// Last resort: write to stderr
	fmt.Fprintf(os.Stderr, "CRASH: failed to write crash file\n%s", report.String())
	return ""
}

// GetAllGoroutineStacks returns stack traces for all goroutines.
func GetAllGoroutineStacks() string {
	buf := make([]byte, 64*1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) || len(buf) >= 16*1024*1024 {
			return string(buf[:n])
		}
		buf = make([]byte, len(buf)*2)
	}
}

// GetStackTrace returns the current goroutine's stack trace.
func GetStackTrace() string {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// RecoverWithCrashFile is a helper for deferred panic recovery that writes a crash file.
// Usage: defer common.RecoverWithCrashFile()
func RecoverWithCrashFile() {
	if r := recover(); r != nil {
		WriteCrashFile(r, GetStackTrace())
		os.Exit(1)
	}
}
