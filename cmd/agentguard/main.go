package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/agentsh/agentguard/internal/cli"
)

var version = "dev"
var commit = "unknown"

func versionString() string {
	v := strings.TrimSpace(version)
	if v == "" {
		v = "dev"
	}
	c := strings.TrimSpace(commit)
	if c == "" || strings.EqualFold(c, "unknown") {
		return v
	}
	// git describe output already carries the commit
	if strings.Contains(v, c) {
		return v
	}
	return v + "+" + c
}

// exitCode maps a command error to a process exit code, printing its
// message to stderr when there is one.
func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return 0
	}
	var ee *cli.ExitError
	if errors.As(err, &ee) {
		if msg := ee.Message(); msg != "" {
			fmt.Fprintln(stderr, msg)
		}
		return ee.Code()
	}
	fmt.Fprintln(stderr, "agentguard:", err.Error())
	return 1
}

func main() {
	err := cli.NewRoot(versionString()).ExecuteContext(context.Background())
	os.Exit(exitCode(err, os.Stderr))
}
