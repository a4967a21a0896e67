package logger

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

type bufferCloser struct {
	sync.Mutex
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Write(p []byte) (int, error) {
	b.Lock()
	defer b.Unlock()
	return b.Buffer.Write(p)
}

func (b *bufferCloser) Close() error {
	b.Lock()
	defer b.Unlock()
	b.closed = true
	return nil
}

func TestBackendLevels(t *testing.T) {
	backend := NewBackendWithFlags(0)
	all := &bufferCloser{}
	errorsOnly := &bufferCloser{}
	if err := backend.AddLogWriter(all, LevelTrace); err != nil {
		t.Fatalf("TestBackendLevels: AddLogWriter: %s", err)
	}
	if err := backend.AddLogWriter(errorsOnly, LevelError); err != nil {
		t.Fatalf("TestBackendLevels: AddLogWriter: %s", err)
	}
	if err := backend.Run(); err != nil {
		t.Fatalf("TestBackendLevels: Run: %s", err)
	}
	if err := backend.AddLogWriter(&bufferCloser{}, LevelInfo); err == nil {
		t.Fatalf("TestBackendLevels: expected adding a writer to a running backend to fail")
	}

	log := backend.Logger("TEST")
	log.Infof("dropped while off")
	log.SetLevel(LevelDebug)
	log.Tracef("dropped below level")
	log.Debugf("debug %d", 1)
	log.Errorf("error %d", 2)
	backend.Close()

	if !all.closed || !errorsOnly.closed {
		t.Fatalf("TestBackendLevels: expected writers to be closed")
	}
	allOutput := all.String()
	if strings.Contains(allOutput, "dropped") {
		t.Fatalf("TestBackendLevels: filtered entries were written: %s", allOutput)
	}
	if !strings.Contains(allOutput, "[DBG] TEST: debug 1") || !strings.Contains(allOutput, "[ERR] TEST: error 2") {
		t.Fatalf("TestBackendLevels: unexpected output: %s", allOutput)
	}
	if strings.Contains(errorsOnly.String(), "debug 1") || !strings.Contains(errorsOnly.String(), "error 2") {
		t.Fatalf("TestBackendLevels: unexpected error-level output: %s", errorsOnly.String())
	}
}

func TestParseAndSetDebugLevels(t *testing.T) {
	chainLog := RegisterSubSystem("TSTA")
	poolLog := RegisterSubSystem("TSTB")
	if RegisterSubSystem("TSTA") != chainLog {
		t.Fatalf("TestParseAndSetDebugLevels: RegisterSubSystem returned a different logger for the same tag")
	}

	tests := []struct {
		debugLevel string
		chainLevel Level
		poolLevel  Level
		expectsErr bool
	}{
		{debugLevel: "debug", chainLevel: LevelDebug, poolLevel: LevelDebug},
		{debugLevel: "TSTA=trace,TSTB=error", chainLevel: LevelTrace, poolLevel: LevelError},
		{debugLevel: "bogus", expectsErr: true},
		{debugLevel: "TSTA=trace,NOPE=info", expectsErr: true},
		{debugLevel: "TSTA=loud", expectsErr: true},
		{debugLevel: "TSTA", expectsErr: true},
	}
	for _, test := range tests {
		err := ParseAndSetDebugLevels(test.debugLevel)
		if test.expectsErr {
			if err == nil {
				t.Fatalf("TestParseAndSetDebugLevels: %q: expected an error", test.debugLevel)
			}
			continue
		}
		if err != nil {
			t.Fatalf("TestParseAndSetDebugLevels: %q: %s", test.debugLevel, err)
		}
		if chainLog.Level() != test.chainLevel || poolLog.Level() != test.poolLevel {
			t.Fatalf("TestParseAndSetDebugLevels: %q: got levels %s/%s, want %s/%s", test.debugLevel,
				chainLog.Level(), poolLog.Level(), test.chainLevel, test.poolLevel)
		}
	}
}
