package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	dir := t.TempDir()
	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{filepath.Join(dir, "config.yaml")}
	}
	defer func() { searchPathsFunc = orig }()

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 8080\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("mqtt:\n  broker_url: ${AUCTIONHOUSE_TEST_BROKER}\n"), 0600)
	os.Setenv("AUCTIONHOUSE_TEST_BROKER", "tcp://localhost:1883")
	defer os.Unsetenv("AUCTIONHOUSE_TEST_BROKER")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.MQTT.BrokerURL != "tcp://localhost:1883" {
		t.Errorf("broker_url = %q, want %q", cfg.MQTT.BrokerURL, "tcp://localhost:1883")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Listen.Port != 9090 {
		t.Errorf("listen.port = %d, want 9090", cfg.Listen.Port)
	}
	if cfg.Listen.MaxClients != 1 {
		t.Errorf("listen.max_clients = %d, want 1", cfg.Listen.MaxClients)
	}
	if cfg.Listen.MaxWaitSec != 10 {
		t.Errorf("listen.max_wait_sec = %d, want 10", cfg.Listen.MaxWaitSec)
	}
	if cfg.Listen.SessionID != 1 {
		t.Errorf("listen.session_id = %d, want 1", cfg.Listen.SessionID)
	}
	if cfg.Listen.GracePeriod != 5 {
		t.Errorf("listen.grace_sec = %d, want 5", cfg.Listen.GracePeriod)
	}
	if cfg.MQTT.TopicPrefix != "auctionhouse" {
		t.Errorf("mqtt.topic_prefix = %q, want auctionhouse", cfg.MQTT.TopicPrefix)
	}
}

func TestValidate_RejectsOutOfRangePort(t *testing.T) {
	cfg := Default()
	cfg.Listen.Port = 70000

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for out-of-range port")
	}
}

func TestValidate_RejectsDuplicateTaskID(t *testing.T) {
	cfg := Default()
	cfg.Auctions = append(cfg.Auctions, AuctionConfig{ID: 1, Type: "ascending"})

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for duplicate task id")
	}
	if !strings.Contains(err.Error(), "duplicate task id") {
		t.Errorf("error should mention duplicate task id, got: %v", err)
	}
}

func TestValidate_RejectsMissingType(t *testing.T) {
	cfg := Default()
	cfg.Auctions[0].Type = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for missing type")
	}
	if !strings.Contains(err.Error(), "missing type") {
		t.Errorf("error should mention missing type, got: %v", err)
	}
}

func TestValidate_RejectsSelfDependency(t *testing.T) {
	cfg := Default()
	cfg.Schedule.StartDeps = []DependEdge{{Task: 1, DependsOn: 1}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for self-dependency")
	}
	if !strings.Contains(err.Error(), "cannot depend on itself") {
		t.Errorf("error should mention self-dependency, got: %v", err)
	}
}

func TestValidate_RejectsUnknownDependencyPartner(t *testing.T) {
	cfg := Default()
	cfg.Schedule.EndDeps = []DependEdge{{Task: 1, DependsOn: 99}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for unknown dependency partner")
	}
	if !strings.Contains(err.Error(), "unknown task id 99") {
		t.Errorf("error should mention unknown task id, got: %v", err)
	}
}

func TestValidate_AcceptsWellFormedSchedule(t *testing.T) {
	cfg := Default()
	cfg.Auctions = []AuctionConfig{
		{ID: 1, Type: "ascending"},
		{ID: 2, Type: "ascending"},
	}
	cfg.Schedule.StartDeps = []DependEdge{{Task: 2, DependsOn: 1}}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestMQTTConfig_Configured(t *testing.T) {
	if (MQTTConfig{}).Configured() {
		t.Error("empty MQTTConfig should not be Configured")
	}
	if !(MQTTConfig{BrokerURL: "tcp://localhost:1883"}).Configured() {
		t.Error("MQTTConfig with broker_url should be Configured")
	}
}

func TestDashboardConfig_Configured(t *testing.T) {
	if (DashboardConfig{}).Configured() {
		t.Error("empty DashboardConfig should not be Configured")
	}
	if !(DashboardConfig{Listen: ":8090"}).Configured() {
		t.Error("DashboardConfig with listen should be Configured")
	}
}

func TestTaskIDs_SortedAscending(t *testing.T) {
	cfg := Default()
	cfg.Auctions = []AuctionConfig{
		{ID: 3, Type: "ascending"},
		{ID: 1, Type: "ascending"},
		{ID: 2, Type: "ascending"},
	}

	got := cfg.TaskIDs()
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("TaskIDs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("TaskIDs()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
