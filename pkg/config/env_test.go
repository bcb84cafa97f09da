package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestGetEnvWithDefault(t *testing.T) {
	t.Setenv("CFX_FOO", "")
	if got := GetEnv("CFX_FOO", "bar"); got != "bar" {
		t.Fatalf("expected bar, got %s", got)
	}
	t.Setenv("CFX_FOO", "  baz ")
	if got := GetEnv("CFX_FOO", "bar"); got != "baz" {
		t.Fatalf("expected trimmed baz, got %q", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("CFX_NUM", "")
	if got := GetEnvInt("CFX_NUM", 42); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	t.Setenv("CFX_NUM", "100")
	if got := GetEnvInt("CFX_NUM", 42); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	t.Setenv("CFX_NUM", "notint")
	if got := GetEnvInt("CFX_NUM", 7); got != 7 {
		t.Fatalf("expected 7 on parse error, got %d", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("CFX_FLAG", "")
	if got := GetEnvBool("CFX_FLAG", true); got != true {
		t.Fatalf("expected true default, got %v", got)
	}
	t.Setenv("CFX_FLAG", "false")
	if got := GetEnvBool("CFX_FLAG", true); got != false {
		t.Fatalf("expected false, got %v", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	cases := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "unset", value: "", want: time.Minute},
		{name: "go duration", value: "500ms", want: 500 * time.Millisecond},
		{name: "hours", value: "2h", want: 2 * time.Hour},
		{name: "bare seconds", value: "30", want: 30 * time.Second},
		{name: "garbage", value: "soon", want: time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("CFX_DUR", tc.value)
			if got := GetEnvDuration("CFX_DUR", time.Minute); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("CFX_LIST", " a, ,b ,c")
	if got := GetEnvList("CFX_LIST", nil); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected list %v", got)
	}
	t.Setenv("CFX_LIST", " , ")
	if got := GetEnvList("CFX_LIST", []string{"x"}); !reflect.DeepEqual(got, []string{"x"}) {
		t.Fatalf("expected default for empty items, got %v", got)
	}
}

func TestGetLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	if GetLogLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level")
	}
	t.Setenv("LOG_LEVEL", "WARN")
	if GetLogLevel() != logrus.WarnLevel {
		t.Fatalf("expected warn level")
	}
	t.Setenv("LOG_LEVEL", "error")
	if GetLogLevel() != logrus.ErrorLevel {
		t.Fatalf("expected error level")
	}
	t.Setenv("LOG_LEVEL", "")
	if GetLogLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level by default")
	}
}

func TestLoadEnvOverloadsFromDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("CFX_FROM_FILE=loaded\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("CFX_FROM_FILE", "")

	LoadEnv(logrus.New())
	if got := os.Getenv("CFX_FROM_FILE"); got != "loaded" {
		t.Fatalf("expected value from .env, got %q", got)
	}
}

func TestLoadEnv_NoFile(t *testing.T) {
	LoadEnv(logrus.New())
	LoadEnv(nil)
}
