package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestPreprocessJSONLike(t *testing.T) {
	input := `{
  // line comment
  "server": {
    "port": 4000, /* block
    comment */
    "bind": "all", // trailing comment
  },
}`
	want := `{"server":{"port":4000,"bind":"all"}}`

	var got Config
	clean := preprocessJSONLike(input)
	if err := json.Unmarshal([]byte(clean), &got); err != nil {
		t.Fatalf("cleaned config does not parse: %v\ninput: %s\ncleaned: %s\nwant shape: %s", err, input, clean, want)
	}
	if got.Server.Port != 4000 || got.Server.Bind != "all" {
		t.Errorf("server = %+v", got.Server)
	}
}

// Slashes inside JSON strings must survive comment stripping.
func TestPreprocessJSONLikeKeepsURLs(t *testing.T) {
	input := `{"providers":{"lmstudio":{"baseUrl":"http://localhost:1234/v1"}}}`
	var got Config
	if err := json.Unmarshal([]byte(preprocessJSONLike(input)), &got); err != nil {
		t.Fatal(err)
	}
	if got.Providers["lmstudio"].BaseURL != "http://localhost:1234/v1" {
		t.Errorf("baseUrl = %q", got.Providers["lmstudio"].BaseURL)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("CHATRELAY_CONFIG", filepath.Join(t.TempDir(), "absent.json"))

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 3000 || cfg.Models.Default != "gpt-4.1-mini" {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatrelay.json")
	content := `{
  // port override
  "server": {"port": 8080},
  "providers": {"openai": {"apiKey": "from-file"}},
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHATRELAY_CONFIG", path)
	t.Setenv("OPENAI_API_KEY", "from-env")
	t.Setenv("CHATRELAY_DB", "/tmp/override.db")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	// Environment beats the file.
	if cfg.Providers["openai"].APIKey != "from-env" {
		t.Errorf("openai key = %q", cfg.Providers["openai"].APIKey)
	}
	if cfg.Store.Path != "/tmp/override.db" {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
}

func TestKnownAndLocalModel(t *testing.T) {
	cfg := Default()

	if !cfg.KnownModel("gpt-4.1-mini") {
		t.Error("gpt-4.1-mini should be known")
	}
	if cfg.KnownModel("gpt-oo") {
		t.Error("gpt-oo should be unknown")
	}
	if !cfg.LocalModel("huihui-gpt-oss-20b-abliterated") {
		t.Error("local model not recognized")
	}
	if cfg.LocalModel("gpt-4.1-mini") {
		t.Error("gpt-4.1-mini is not local")
	}
}

func TestProviderLookupNormalizes(t *testing.T) {
	cfg := Default()
	cfg.Providers = map[string]ProviderConfig{"openai": {APIKey: "k"}}

	if cfg.Provider(" OpenAI ").APIKey != "k" {
		t.Error("provider lookup should trim and lowercase")
	}
	if cfg.Provider("missing").APIKey != "" {
		t.Error("missing provider should be zero")
	}
}
