package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/go-kit/log/level"

	"github.com/hochfrequenz/simgrid/internal/domain"
)

func TestNew_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("warn", "logfmt", &buf)
	if err != nil {
		t.Fatal(err)
	}

	level.Info(logger).Log("msg", "hidden")
	level.Warn(logger).Log("msg", "shown", "task", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message passed a warn filter: %s", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "task=3") {
		t.Errorf("warn message missing: %s", out)
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("debug", "json", &buf)
	if err != nil {
		t.Fatal(err)
	}
	level.Debug(logger).Log("msg", "hello")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("output = %s, want JSON", buf.String())
	}
}

func TestNew_Invalid(t *testing.T) {
	if _, err := New("loud", "logfmt", &bytes.Buffer{}); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("unknown level error = %v", err)
	}
	if _, err := New("info", "xml", &bytes.Buffer{}); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("unknown format error = %v", err)
	}
}
