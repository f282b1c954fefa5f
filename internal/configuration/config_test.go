package configuration

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesFileEnvAndDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"mongo": {"uri": "mongodb://file:27017", "database": "from_file"},
		"server": {"app_port": 9000}
	}`)
	clearEnv(t)
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("MONGO_DATABASE", "from_env")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("SOCKET_PORT", "9100")

	config, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if config.ChatDatabase.Uri != "mongodb://file:27017" {
		t.Fatalf("expected uri from file, got %q", config.ChatDatabase.Uri)
	}
	if config.ChatDatabase.Database != "from_env" {
		t.Fatalf("expected env override, got %q", config.ChatDatabase.Database)
	}
	if config.Server.AppPort != 9000 || config.Server.SocketPort != 9100 {
		t.Fatalf("unexpected ports %+v", config.Server)
	}
	if len(config.Kafka.Brokers) != 2 || config.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", config.Kafka.Brokers)
	}
	if config.Kafka.Topic != "parley.messages" || config.ChatDatabase.SocketRoute != "ws" {
		t.Fatalf("expected defaults to be filled, got %+v", config)
	}
}

// clearEnv blanks every override so the host environment cannot leak in
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"MONGO_URI", "MONGO_DATABASE", "REDIS_URL", "KAFKA_BROKERS", "KAFKA_TOPIC", "APP_PORT", "SOCKET_PORT"} {
		t.Setenv(key, "")
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.json"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing CONFIG_PATH file")
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_PATH", writeConfig(t, `{}`))
	t.Setenv("APP_PORT", "eighty")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for non-numeric APP_PORT")
	}
}
