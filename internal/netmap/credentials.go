package netmap

// Credential carries the account used to authenticate drive mappings. The
// secret lives only in memory for the duration of a run; Clear zeroes it so
// a completed or stopped run leaves nothing behind.
type Credential struct {
	Username string
	secret   []byte
}

func NewCredential(username, secret string) *Credential {
	return &Credential{Username: username, secret: []byte(secret)}
}

func (c *Credential) Secret() string {
	if c == nil {
		return ""
	}
	return string(c.secret)
}

// Clear zeroes the secret in place. The credential is unusable afterwards.
func (c *Credential) Clear() {
	if c == nil {
		return
	}
	for i := range c.secret {
		c.secret[i] = 0
	}
	c.secret = nil
	c.Username = ""
}

// CredentialStore persists a service credential across restarts, encrypted
// at rest. Load returns (nil, nil) when no credential is stored.
type CredentialStore interface {
	Save(cred *Credential) error
	Load() (*Credential, error)
	Delete() error
}
