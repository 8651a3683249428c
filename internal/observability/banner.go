package observability

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

var startTime = time.Now()

const (
	colorReset    = "\033[0m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
)

// termMu serialises log writes with the status line.
var termMu sync.Mutex

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

type termWriter struct {
	out io.Writer
}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return tw.out.Write(p)
}

// NewTermWriter returns the log sink. It serialises writes with
// PrintLiveStatus via termMu.
func NewTermWriter() io.Writer {
	return termWriter{out: os.Stderr}
}

func PrintBanner(w io.Writer, version string) {
	banner := `
 ___ _   _ _____  _    _  _______
|_ _| \ | |_   _|/ \  | |/ / ____|
 | ||  \| | | | / _ \ | ' /|  _|
 | || |\  | | |/ ___ \| . \| |___
|___|_| \_| |_/_/   \_\_|\_\_____|
`
	width := termWidth()
	lines := strings.Split(banner, "\n")
	lines = append(lines, fmt.Sprintf(">> tax intake workflow %s <<", version))

	for _, l := range lines {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Fprintf(w, "%s%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan, l, colorReset)
	}
}

// StatusLine renders the one-line live status.
func StatusLine() string {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	memMB := float64(m.Alloc) / 1024 / 1024

	s := GetStatus()

	pulseText := "OFFLINE"
	pulseColor := colorNeonMag
	delta := time.Since(s.LastHeartbeat)
	if delta < 40*time.Second {
		pulseText = "HEALTHY"
		pulseColor = colorNeonCyan
	} else if delta < 90*time.Second {
		pulseText = "LAGGING"
		pulseColor = colorPurple
	}

	user := s.ActiveUser
	if user == "" {
		user = "-"
	}
	if len(user) > 25 {
		user = user[:22] + "..."
	}

	return fmt.Sprintf("%s[%s] %s%-7s%s | %-11s | in-flight %d | %s | up %s | %.1fMB",
		colorReset,
		s.LastHeartbeat.Format("15:04:05"),
		pulseColor, pulseText, colorReset,
		s.Phase, s.InFlight, user, s.Uptime, memMB,
	)
}

// PrintLiveStatus redraws the status line in place when stdout is a terminal.
func PrintLiveStatus() {
	if !IsTerminal() {
		return
	}
	line := "\r\033[K" + StatusLine()
	termMu.Lock()
	fmt.Fprint(os.Stdout, line)
	termMu.Unlock()
}
