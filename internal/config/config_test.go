package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "enclave.yaml")
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
data_dir: `+dir+`
tokens:
  alpha: token-a
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:8080" {
		t.Fatalf("unexpected listen default %q", cfg.Listen)
	}
	if cfg.NamespacesRoot != filepath.Join(dir, "namespaces") {
		t.Fatalf("unexpected namespaces root %q", cfg.NamespacesRoot)
	}
	if cfg.Corpus.Path != filepath.Join(dir, "corpus", "core.jsonl") {
		t.Fatalf("unexpected corpus path %q", cfg.Corpus.Path)
	}
	if cfg.Corpus.HashPath != filepath.Join(dir, "corpus", "core.sha256") {
		t.Fatalf("unexpected hash path %q", cfg.Corpus.HashPath)
	}
	if cfg.Blob.FSRoot != filepath.Join(dir, "artifacts") {
		t.Fatalf("unexpected artifact root %q", cfg.Blob.FSRoot)
	}
	if cfg.ExportWorkers != 1 {
		t.Fatalf("unexpected worker default %d", cfg.ExportWorkers)
	}
}

func TestLoadTokensFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
data_dir: `+dir+`
tokens:
  file-principal: file-token
`)
	t.Setenv(TokensEnv, `{"alpha":"env-token"}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := cfg.Tokens["file-principal"]; ok {
		t.Fatalf("environment table must replace the file table")
	}
	if cfg.Tokens["alpha"] != "env-token" {
		t.Fatalf("unexpected tokens %v", cfg.Tokens)
	}
}

func TestLoadRejectsMalformedEnvTokens(t *testing.T) {
	t.Setenv(TokensEnv, `["not","an","object"]`)
	if _, err := Load(""); err == nil {
		t.Fatalf("expected rejection of non-object token table")
	}
}

func TestValidateRejectsMissingTokens(t *testing.T) {
	path := writeConfig(t, "data_dir: "+t.TempDir()+"\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected rejection when no credentials configured")
	}
}

func TestValidateRejectsPathStructuredPrincipal(t *testing.T) {
	path := writeConfig(t, `
data_dir: `+t.TempDir()+`
tokens:
  ../escape: token
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected rejection of path-structured principal")
	}
}

func TestValidateRejectsNamespacesInsideCorpusDir(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
data_dir: `+dir+`
namespaces_root: `+filepath.Join(dir, "corpus", "namespaces")+`
corpus:
  path: `+filepath.Join(dir, "corpus", "core.jsonl")+`
tokens:
  alpha: token-a
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected rejection of namespaces root inside corpus dir")
	}
}

func TestDenyRootsCoverCorpusAndSiblings(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
data_dir: `+dir+`
tokens:
  alpha: token-a
  beta: token-b
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	deny := cfg.DenyRootsFor("alpha")
	want := map[string]bool{
		cfg.CorpusDir(): false,
		filepath.Join(cfg.NamespacesRoot, "beta"): false,
	}
	for _, root := range deny {
		if _, ok := want[root]; ok {
			want[root] = true
		}
		if root == filepath.Join(cfg.NamespacesRoot, "alpha") {
			t.Fatalf("deny set must not contain the namespace's own root")
		}
	}
	for root, seen := range want {
		if !seen {
			t.Fatalf("deny set missing %s (got %v)", root, deny)
		}
	}
}
