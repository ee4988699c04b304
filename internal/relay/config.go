package relay

import (
	"encoding/json"
	"os"
	"time"
)

// Target is one configured uplink (spec.md §6 relay config, §4.10
// uplink channel).
type Target struct {
	PylonID      string    `json:"pylonId"`
	PylonName    string    `json:"pylonName"`
	WSURL        string    `json:"wsUrl"`
	Token        string    `json:"token,omitempty"`    // accepted plaintext, re-saved encrypted
	TokenEnc     string    `json:"tokenEnc,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	RefreshEnc   string    `json:"refreshTokenEnc,omitempty"`
	Projects     []string  `json:"projects,omitempty"`
	AddedAt      time.Time `json:"addedAt"`
}

// Config is the on-disk shape of relay.json.
type Config struct {
	Targets []Target `json:"targets"`
}

// Load reads relay.json at path, decrypting any tokenEnc/refreshTokenEnc
// fields in place with codec. A missing file yields an empty Config, not
// an error (spec.md §7: Configuration-class errors are treated as empty
// configuration).
func Load(path string, codec *Codec) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	if err != nil {
		return &Config{}, nil
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return &Config{}, nil
	}

	dirty := false
	for i, t := range cfg.Targets {
		if t.Token != "" && t.TokenEnc == "" {
			enc, err := codec.Encrypt(t.Token)
			if err == nil {
				cfg.Targets[i].TokenEnc = enc
				cfg.Targets[i].Token = ""
				dirty = true
			}
		}
		if t.RefreshToken != "" && t.RefreshEnc == "" {
			enc, err := codec.Encrypt(t.RefreshToken)
			if err == nil {
				cfg.Targets[i].RefreshEnc = enc
				cfg.Targets[i].RefreshToken = ""
				dirty = true
			}
		}
	}
	if dirty {
		if err := Save(path, &cfg); err != nil {
			// Persistence failure is non-fatal; continue with the
			// in-memory re-encrypted values for this process.
			_ = err
		}
	}
	return &cfg, nil
}

// Save atomically writes cfg to path with mode 0600 (spec.md §6).
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Chmod(tmp, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// DecryptToken returns a target's bearer token: the plaintext Token if one
// is still set, else TokenEnc decrypted via codec.
func (t Target) DecryptToken(codec *Codec) (string, error) {
	if t.Token != "" {
		return t.Token, nil
	}
	if t.TokenEnc == "" {
		return "", nil
	}
	return codec.Decrypt(t.TokenEnc)
}
