package repo

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
)

const identityRelPath = ".config/silt/identity.json"

// Identity names the author stamped on commits and operations.
type Identity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func identityPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, identityRelPath)
}

// LoadIdentity reads the shared identity file, or derives one from the OS
// user if missing.
func LoadIdentity() (*Identity, error) {
	path := identityPath()
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			var id Identity
			if err := json.Unmarshal(data, &id); err != nil {
				return nil, fmt.Errorf("parse identity: %w", err)
			}
			return &id, nil
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read identity: %w", err)
		}
	}

	name := "unknown"
	if u, err := user.Current(); err == nil {
		name = u.Username
		if u.Name != "" {
			name = u.Name
		}
	}
	host, _ := os.Hostname()
	id := &Identity{Name: name, Email: name + "@" + host}

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err == nil {
			if data, err := json.MarshalIndent(id, "", "  "); err == nil {
				os.WriteFile(path, data, 0600)
			}
		}
	}
	return id, nil
}
