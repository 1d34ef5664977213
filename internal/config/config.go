// Package config loads and validates the process configuration. The
// configuration is constructed once at startup and passed by reference; a
// credential or namespace change requires a restart.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"enclave/internal/audit"
	"enclave/internal/blob"
	"enclave/internal/pathguard"
	"enclave/internal/sandbox"
)

// TokensEnv optionally supplies the credential table as a JSON object,
// overriding the file table. Mirrors the original deployment convention.
const TokensEnv = "ENCLAVE_TOKENS"

// CorpusConfig locates the immutable corpus and its companion digest file.
type CorpusConfig struct {
	Path     string `yaml:"path"`
	HashPath string `yaml:"hash_path"`
}

// Config is the full process configuration.
type Config struct {
	Listen         string            `yaml:"listen"`
	DataDir        string            `yaml:"data_dir"`
	NamespacesRoot string            `yaml:"namespaces_root"`
	Corpus         CorpusConfig      `yaml:"corpus"`
	Tokens         map[string]string `yaml:"tokens"`
	Blob           blob.Config       `yaml:"blob"`
	Audit          audit.Config      `yaml:"audit"`
	ExportWorkers  int               `yaml:"export_workers"`
}

// Load reads the YAML file at path, applies defaults and the token
// environment override, and validates the result. An empty path yields a
// default configuration (tokens must then come from the environment).
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if raw := os.Getenv(TokensEnv); raw != "" {
		tokens := map[string]string{}
		if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
			return Config{}, fmt.Errorf("%s must be a JSON object: %w", TokensEnv, err)
		}
		cfg.Tokens = tokens
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.NamespacesRoot == "" {
		c.NamespacesRoot = filepath.Join(c.DataDir, "namespaces")
	}
	if c.Corpus.Path == "" {
		c.Corpus.Path = filepath.Join(c.DataDir, "corpus", "core.jsonl")
	}
	if c.Corpus.HashPath == "" {
		c.Corpus.HashPath = strings.TrimSuffix(c.Corpus.Path, filepath.Ext(c.Corpus.Path)) + ".sha256"
	}
	if c.Blob.Driver == blob.DriverFilesystem || c.Blob.Driver == "" {
		if c.Blob.FSRoot == "" {
			c.Blob.FSRoot = filepath.Join(c.DataDir, "artifacts")
		}
	}
	if c.ExportWorkers <= 0 {
		c.ExportWorkers = 1
	}
}

// CorpusDir is the directory holding the corpus; it is a deny root for
// every namespace.
func (c *Config) CorpusDir() string {
	return filepath.Dir(c.Corpus.Path)
}

// DenyRootsFor builds the deny set for one namespace: the corpus directory
// plus every sibling namespace root. Sibling denial is a hard guarantee, so
// each sibling is listed individually rather than denying the shared parent.
func (c *Config) DenyRootsFor(id string) []string {
	deny := []string{c.CorpusDir()}
	for principal := range c.Tokens {
		if principal != id {
			deny = append(deny, filepath.Join(c.NamespacesRoot, principal))
		}
	}
	return deny
}

// Validate rejects configurations that would undermine the isolation
// invariants: empty principals or secrets, namespace identifiers with path
// structure, and namespace roots not disjoint from the corpus directory.
func (c *Config) Validate() error {
	if len(c.Tokens) == 0 {
		return fmt.Errorf("no credentials configured (set tokens in the config file or %s)", TokensEnv)
	}
	for principal, secret := range c.Tokens {
		if strings.TrimSpace(principal) == "" {
			return fmt.Errorf("credential table: empty principal")
		}
		if secret == "" {
			return fmt.Errorf("credential table: empty secret for principal %q", principal)
		}
		if err := sandbox.ValidateID(principal); err != nil {
			return fmt.Errorf("principal %q is not a valid namespace id: %w", principal, err)
		}
	}
	corpusDir, err := pathguard.Resolve(c.CorpusDir())
	if err != nil {
		return fmt.Errorf("resolve corpus dir: %w", err)
	}
	nsRoot, err := pathguard.Resolve(c.NamespacesRoot)
	if err != nil {
		return fmt.Errorf("resolve namespaces root: %w", err)
	}
	if pathguard.Within(nsRoot, corpusDir) || pathguard.Within(corpusDir, nsRoot) {
		return fmt.Errorf("namespaces root %s is not disjoint from corpus dir %s", nsRoot, corpusDir)
	}
	for principal := range c.Tokens {
		if _, err := sandbox.NewNamespace(c.NamespacesRoot, principal, c.DenyRootsFor(principal)); err != nil {
			return err
		}
	}
	return nil
}
