package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := ioutil.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultFromEnvironment(t *testing.T) {
	t.Setenv("RABBITMQ_URL", "amqp://u:p@rabbit:5672/")
	t.Setenv("DATABASE_URL", "postgres://db/auth")
	t.Setenv("PORT", "3001")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("LOG_LEVEL", "")

	c := Default("db/migrations/auth")
	if c.AMQPURL != "amqp://u:p@rabbit:5672/" || c.DatabaseURL != "postgres://db/auth" {
		t.Fatalf("environment not applied: %+v", c)
	}
	if c.Port != 3001 || c.RedisAddr != "redis:6379" {
		t.Fatalf("environment not applied: %+v", c)
	}
	if c.RPCQueue != "auth_queue" || c.RPCTimeout != 5*time.Second || c.BrokerWaitTimeout != 30*time.Second {
		t.Fatalf("unexpected protocol defaults: %+v", c)
	}
	if c.Prefetch != 1 || c.RequeueDelay != 500*time.Millisecond || c.LogLevel != "info" || c.MigrationsDir != "db/migrations/auth" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestDefaultIgnoresInvalidPort(t *testing.T) {
	t.Setenv("PORT", "http")
	if c := Default(""); c.Port != DefaultPort {
		t.Fatalf("expected default port, got %d", c.Port)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "port: 9000\nrpcTimeout: 2s\nprefetch: 4\ndeadLetterExchange: dlx\n")

	c := Default("")
	if err := c.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.Port != 9000 || c.RPCTimeout != 2*time.Second || c.Prefetch != 4 || c.DeadLetterExchange != "dlx" {
		t.Fatalf("file not applied: %+v", c)
	}
	if c.RPCQueue != DefaultRPCQueue {
		t.Fatalf("missing key overwrote default: %q", c.RPCQueue)
	}
}

func TestLoadFileRejects(t *testing.T) {
	tests := map[string]string{
		"unknown key":   "prot: 9000\n",
		"bad prefetch":  "prefetch: 0\n",
		"bad timeout":   "rpcTimeout: -1s\n",
		"bad requeue":   "requeueDelay: -1s\n",
		"not yaml":      "port: [\n",
		"empty queue":   "rpcQueue: \"\"\n",
		"port overflow": "port: 70000\n",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if err := Default("").LoadFile(writeFile(t, content)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	if err := Default("").LoadFile(filepath.Join(os.TempDir(), "does-not-exist.yml")); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}

func TestFlagsWinOverFile(t *testing.T) {
	path := writeFile(t, "port: 9000\nrpcQueue: users_queue\n")

	c := Default("")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.AddFlags(fs)
	if err := fs.Parse([]string{"--port", "7000"}); err != nil {
		t.Fatal(err)
	}

	if err := c.Load(fs, path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Port != 7000 {
		t.Fatalf("flag lost against the file: %d", c.Port)
	}
	if c.RPCQueue != "users_queue" {
		t.Fatalf("file not applied: %q", c.RPCQueue)
	}
}
