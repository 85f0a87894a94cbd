// Package setup registers the MCP server with desktop MCP clients and checks
// the local installation.
package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
)

// ServerName is the key the MCP server is registered under
const ServerName = "phenovariant"

// BinaryName is the name of the standalone MCP server binary
const BinaryName = "phenovariant-mcp"

// ClientConfig is the mcpServers configuration file shared by desktop MCP
// clients. Unknown top-level members are preserved.
type ClientConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
	other      map[string]json.RawMessage
}

// MCPServerConfig represents a single MCP server configuration.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options contains options for registering the server.
type Options struct {
	ConfigPath string // Client config file; DefaultClientConfigPath when empty
	BinaryPath string // Server binary; searched on PATH when empty
	DataDir    string // Passed to the server as PV_DATA_DIR
	OBOPath    string // Passed to the server as PV_OBO_PATH
}

// DefaultClientConfigPath returns the desktop client's config file for the
// current platform.
func DefaultClientConfigPath() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support", "Claude")
	case "linux":
		// Try XDG config first, then fallback
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			configDir = filepath.Join(xdg, "Claude")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config", "Claude")
		}
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		configDir = filepath.Join(appData, "Claude")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	return filepath.Join(configDir, "claude_desktop_config.json"), nil
}

// LoadClientConfig reads a client config file. A missing file yields an
// empty configuration.
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := &ClientConfig{MCPServers: map[string]MCPServerConfig{}, other: map[string]json.RawMessage{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg.other); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if raw, ok := cfg.other["mcpServers"]; ok {
		if err := json.Unmarshal(raw, &cfg.MCPServers); err != nil {
			return nil, fmt.Errorf("failed to parse mcpServers: %w", err)
		}
		delete(cfg.other, "mcpServers")
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = map[string]MCPServerConfig{}
	}
	return cfg, nil
}

// Save writes the configuration, creating its directory
func (c *ClientConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := make(map[string]interface{}, len(c.other)+1)
	for k, v := range c.other {
		out[k] = v
	}
	out["mcpServers"] = c.MCPServers

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Register adds or replaces the server entry and returns the config path
// written.
func Register(opts Options) (string, error) {
	path := opts.ConfigPath
	if path == "" {
		var err error
		if path, err = DefaultClientConfigPath(); err != nil {
			return "", err
		}
	}

	cfg, err := LoadClientConfig(path)
	if err != nil {
		return "", err
	}

	binary := opts.BinaryPath
	if binary == "" {
		if binary, err = exec.LookPath(BinaryName); err != nil {
			return "", fmt.Errorf("could not find %s on PATH, pass the binary path: %w", BinaryName, err)
		}
	}
	if abs, err := filepath.Abs(binary); err == nil {
		binary = abs
	}

	entry := MCPServerConfig{Command: binary, Env: map[string]string{}}
	if opts.DataDir != "" {
		entry.Env["PV_DATA_DIR"] = opts.DataDir
	}
	if opts.OBOPath != "" {
		entry.Env["PV_OBO_PATH"] = opts.OBOPath
	}
	cfg.MCPServers[ServerName] = entry

	if err := cfg.Save(path); err != nil {
		return "", err
	}
	return path, nil
}

// Status represents the current setup status.
type Status struct {
	ConfigPath string   `json:"config_path"`
	Registered bool     `json:"registered"`
	Command    string   `json:"command,omitempty"`
	DataDir    string   `json:"data_dir,omitempty"`
	OBOPath    string   `json:"obo_path,omitempty"`
	Issues     []string `json:"issues"`
}

// GetStatus inspects the client registration and the data it points at.
// defaultDataDir is reported when the entry does not override it.
func GetStatus(configPath, defaultDataDir string) (*Status, error) {
	status := &Status{ConfigPath: configPath, DataDir: defaultDataDir, Issues: []string{}}

	cfg, err := LoadClientConfig(configPath)
	if err != nil {
		return nil, err
	}

	if entry, ok := cfg.MCPServers[ServerName]; ok {
		status.Registered = true
		status.Command = entry.Command
		if dir := entry.Env["PV_DATA_DIR"]; dir != "" {
			status.DataDir = dir
		}
		status.OBOPath = entry.Env["PV_OBO_PATH"]

		info, err := os.Stat(entry.Command)
		switch {
		case err != nil:
			status.Issues = append(status.Issues, fmt.Sprintf("server binary not found: %s", entry.Command))
		case info.Mode()&0o111 == 0:
			status.Issues = append(status.Issues, fmt.Sprintf("server binary is not executable: %s", entry.Command))
		}
	} else {
		status.Issues = append(status.Issues, fmt.Sprintf("%s is not registered in %s", ServerName, configPath))
	}

	if status.OBOPath == "" && status.DataDir != "" {
		status.OBOPath = filepath.Join(status.DataDir, "hp.obo")
	}
	if status.OBOPath != "" {
		if _, err := os.Stat(status.OBOPath); err != nil {
			status.Issues = append(status.Issues, fmt.Sprintf("ontology snapshot not found: %s", status.OBOPath))
		}
	}

	sort.Strings(status.Issues)
	return status, nil
}
