// Package cli parses the pullgate command line.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

// ExitError is an error carrying a specific process exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Invocation is the parsed command line for one gate run.
type Invocation struct {
	// PythonVersion is the required major.minor version argument. It is
	// carried through unchanged; presence is the only validation.
	PythonVersion string

	// Expectations are NAME=VALUE pairs from the remaining positional
	// arguments, checked against the image config by the verify stage.
	Expectations map[string]string

	// Optional overrides of their environment counterparts.
	ManifestPath string
	ReportPath   string
	LogLevel     string
	LogFormat    string
}

// Parse processes command-line arguments. It returns the invocation, a
// boolean indicating a clean early exit (help requested), or an
// ExitError. A missing version argument exits 1; any other usage error
// exits 2.
func Parse(args []string, output io.Writer) (*Invocation, bool, error) {
	flagSet := flag.NewFlagSet("pullgate", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
pullgate - waits for a CI image in the registry, pulls and verifies it.

Usage:
  pullgate [options] PYTHON_MAJOR_MINOR_VERSION [NAME=VALUE ...]

Arguments:
  PYTHON_MAJOR_MINOR_VERSION
    Python version the CI image was built for, e.g. "3.10". Exported to
    downstream tooling unchanged.
  NAME=VALUE
    Extra environment expectations the pulled image must satisfy.

Options:
`)
		flagSet.PrintDefaults()
	}

	manifestFlag := flagSet.String("manifest", "", "Path to a YAML manifest of additional images to gate (overrides IMAGE_MANIFEST).")
	reportFlag := flagSet.String("report", "", "Path for the JSON run report (overrides REPORT_PATH).")
	logFormatFlag := flagSet.String("log-format", "", "Log output format: 'text' or 'json' (overrides LOG_FORMAT).")
	logLevelFlag := flagSet.String("log-level", "", "Log level: 'debug', 'info', 'warn' or 'error' (overrides LOG_LEVEL).")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	if flagSet.NArg() == 0 || flagSet.Arg(0) == "" {
		return nil, false, &ExitError{
			Code:    1,
			Message: "missing required argument: python version (major.minor); run 'pullgate -h' for usage",
		}
	}

	inv := &Invocation{
		PythonVersion: flagSet.Arg(0),
		Expectations:  map[string]string{},
		ManifestPath:  *manifestFlag,
		ReportPath:    *reportFlag,
	}

	// Remaining positionals belong to the verify stage.
	for _, arg := range flagSet.Args()[1:] {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("invalid expectation %q, expected NAME=VALUE", arg)}
		}
		inv.Expectations[key] = value
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "" && logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}
	inv.LogFormat = logFormat

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	inv.LogLevel = logLevel

	return inv, false, nil
}
