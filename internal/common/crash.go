package common

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

var crashDir = "./logs"

// InstallCrashHandler sets the directory RecoverWithCrashFile writes to
func InstallCrashHandler(dir string) {
	if dir != "" {
		crashDir = dir
	}
	if err := os.MkdirAll(crashDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create crash directory %s: %v\n", crashDir, err)
	}
}

// RecoverWithCrashFile is deferred at the top of main. A panic that reaches it
// is written to a crash report and the process exits with status 1.
func RecoverWithCrashFile() {
	r := recover()
	if r == nil {
		return
	}
	stack := GetStackTrace()
	path, err := WriteCrashReport(crashDir, r, stack, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "panic: %v\n%s\n(crash report not written: %v)\n", r, stack, err)
	} else {
		fmt.Fprintf(os.Stderr, "panic: %v\ncrash report: %s\n", r, path)
	}
	os.Exit(1)
}

// WriteCrashReport writes crash-<utc time>.log under dir and returns its path
func WriteCrashReport(dir string, panicVal interface{}, stack string, at time.Time) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "portalwatch %s crashed at %s\n", CurrentVersion(), at.Format(time.RFC3339))
	fmt.Fprintf(&b, "go %s %s/%s, %d goroutines, %d panics recovered earlier\n\n",
		runtime.Version(), runtime.GOOS, runtime.GOARCH, runtime.NumGoroutine(), PanicCount())
	fmt.Fprintf(&b, "panic: %v\n\n%s\n", panicVal, stack)
	b.WriteString("all goroutines:\n")
	b.WriteString(allGoroutineStacks())

	path := filepath.Join(dir, "crash-"+at.UTC().Format("20060102T150405Z")+".log")
	if err := WriteFileAtomic(path, []byte(b.String()), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// GetStackTrace returns the stack of the calling goroutine
func GetStackTrace() string {
	buf := make([]byte, 8192)
	return string(buf[:runtime.Stack(buf, false)])
}

func allGoroutineStacks() string {
	buf := make([]byte, 64<<10)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) || len(buf) >= 16<<20 {
			return string(buf[:n])
		}
		buf = make([]byte, 2*len(buf))
	}
}
