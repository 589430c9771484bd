package config

import (
	"errors"
	"strings"
	"testing"
)

func TestParseBasicDirectives(t *testing.T) {
	input := `
# comment line
  # indented comment

batch_records 128
logtype stderr
workers 8
mdtdevice lustre-MDT0000
MDTDEVICE lustre-MDT0001
clreader cl1
`
	cfg := Default()
	if err := Parse(strings.NewReader(input), cfg); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg.ResolveDefaults()

	if cfg.RecBatchCount != 128 {
		t.Errorf("RecBatchCount = %d, want 128", cfg.RecBatchCount)
	}
	if cfg.LogType != "stderr" {
		t.Errorf("LogType = %q, want stderr", cfg.LogType)
	}
	if cfg.WorkerCount != 8 {
		t.Errorf("WorkerCount = %d, want 8", cfg.WorkerCount)
	}
	if len(cfg.MDT) != 2 || cfg.MDT[0] != "lustre-MDT0000" || cfg.MDT[1] != "lustre-MDT0001" {
		t.Errorf("MDT = %v", cfg.MDT)
	}
	if cfg.CLReader != "cl1" {
		t.Errorf("CLReader = %q, want cl1", cfg.CLReader)
	}
}

func TestParseCaseInsensitiveKeyword(t *testing.T) {
	cfg := Default()
	if err := Parse(strings.NewReader("BATCH_RECORDS 32\n"), cfg); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.RecBatchCount != 32 {
		t.Errorf("RecBatchCount = %d, want 32", cfg.RecBatchCount)
	}
}

func TestParseDuplicateDirectiveRejected(t *testing.T) {
	cfg := Default()
	input := "logtype stderr\nlogtype syslog\n"
	err := Parse(strings.NewReader(input), cfg)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestParseUnknownDirectiveRejected(t *testing.T) {
	cfg := Default()
	err := Parse(strings.NewReader("not_a_real_directive foo\n"), cfg)
	if !errors.Is(err, ErrUnknownDirective) {
		t.Fatalf("err = %v, want ErrUnknownDirective", err)
	}
}

func TestParseMaxMDTCount(t *testing.T) {
	cfg := Default()
	var sb strings.Builder
	for i := 0; i < 129; i++ {
		sb.WriteString("mdtdevice mdt\n")
	}
	err := Parse(strings.NewReader(sb.String()), cfg)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate once MAX_MDT is exceeded", err)
	}
}

func TestResolveDefaultsFillsWorkerCount(t *testing.T) {
	cfg := Default()
	if err := Parse(strings.NewReader("logtype stderr\n"), cfg); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg.ResolveDefaults()
	if cfg.WorkerCount == 0 {
		t.Error("WorkerCount should be defaulted after ResolveDefaults")
	}
}
