package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var errSecretNotFound = errors.New("secret not found")

// secretsFilePath places the secrets file in the configured data directory:
// ARCHIVEFEVER_STORAGE_DATA_DIR, else storage.data_dir from b, else the default.
func secretsFilePath(b ConfigBackend) string {
	dir := os.Getenv("ARCHIVEFEVER_STORAGE_DATA_DIR")
	if dir == "" {
		if v, ok, err := b.GetString("storage.data_dir"); err == nil && ok && v != "" {
			dir = v
		}
	}
	if dir == "" {
		dir = defaultDataDir()
	}
	return filepath.Join(dir, "secrets.json")
}

// fileSecrets is a flat JSON map of secret config keys, stored with 0600
// permissions outside the config file.
type fileSecrets struct {
	path string
}

func (f fileSecrets) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var secrets map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (f fileSecrets) Get(key string) (string, error) {
	secrets, err := f.read()
	if err != nil {
		return "", err
	}
	val, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("%q: %w", key, errSecretNotFound)
	}
	return val, nil
}

func (f fileSecrets) Set(key, value string) error {
	secrets, err := f.read()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if secrets == nil {
		secrets = make(map[string]string)
	}
	secrets[key] = value

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o600)
}
