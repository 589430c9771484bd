package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lcap-io/lcapd/internal/constants"
)

// directive is one recognized configuration statement.
type directive struct {
	name    string
	handler func(cfg *Config, arg string) error
}

var directives = []directive{
	{"loadmodule", handleLoadModule},
	{"batch_records", handleBatchRecords},
	{"logtype", handleLogType},
	{"workers", handleWorkers},
	{"mdtdevice", handleMDTDevice},
	{"clreader", handleCLReader},
}

// ErrDuplicate is returned when a directive that may only appear once in
// a config file is repeated.
var ErrDuplicate = fmt.Errorf("config: duplicate directive")

// ErrMissingArgument is returned when a directive's required argument is
// absent.
var ErrMissingArgument = fmt.Errorf("config: missing argument")

// ErrUnknownDirective is returned for a line that matches no known
// directive.
var ErrUnknownDirective = fmt.Errorf("config: unknown directive")

// Parse reads a config file's contents line by line, applying each
// recognized directive to cfg. Blank lines and lines whose first
// non-whitespace character is '#' are skipped.
func Parse(r io.Reader, cfg *Config) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := parseLine(cfg, scanner.Text()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func parseLine(cfg *Config, line string) error {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return nil
	}

	fields := strings.Fields(trimmed)
	keyword := fields[0]
	var arg string
	if len(fields) > 1 {
		arg = fields[1]
	}

	for _, d := range directives {
		if strings.EqualFold(keyword, d.name) {
			return d.handler(cfg, arg)
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownDirective, trimmed)
}

func handleLoadModule(cfg *Config, arg string) error {
	if cfg.ModuleName != "" {
		return fmt.Errorf("%w: loadmodule already set to %q", ErrDuplicate, cfg.ModuleName)
	}
	if arg == "" {
		return fmt.Errorf("%w: module name", ErrMissingArgument)
	}
	cfg.ModuleName = arg
	return nil
}

func handleBatchRecords(cfg *Config, arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("%w: batch_records", ErrMissingArgument)
	}
	cfg.RecBatchCount = n
	return nil
}

func handleLogType(cfg *Config, arg string) error {
	if cfg.LogType != "" {
		return fmt.Errorf("%w: logtype already set to %q", ErrDuplicate, cfg.LogType)
	}
	if arg == "" {
		return fmt.Errorf("%w: logtype", ErrMissingArgument)
	}
	cfg.LogType = arg
	return nil
}

func handleWorkers(cfg *Config, arg string) error {
	if cfg.WorkerCount != 0 {
		return fmt.Errorf("%w: workers already set", ErrDuplicate)
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("%w: workers", ErrMissingArgument)
	}
	cfg.WorkerCount = n
	return nil
}

func handleMDTDevice(cfg *Config, arg string) error {
	if len(cfg.MDT) >= constants.MaxMDTCount {
		return fmt.Errorf("%w: max MDT device count (%d) reached", ErrDuplicate, constants.MaxMDTCount)
	}
	if arg == "" {
		return fmt.Errorf("%w: MDT device name", ErrMissingArgument)
	}
	cfg.MDT = append(cfg.MDT, arg)
	return nil
}

func handleCLReader(cfg *Config, arg string) error {
	if cfg.CLReader != "" {
		return fmt.Errorf("%w: clreader already set to %q", ErrDuplicate, cfg.CLReader)
	}
	if arg == "" {
		return fmt.Errorf("%w: CL reader index", ErrMissingArgument)
	}
	cfg.CLReader = arg
	return nil
}
