package wallet

import (
	"fmt"

	apperr "github.com/obverse/obverse/internal/errors"
)

// DefaultSecretID names the master secret of wallets stored without a
// secret id.
const DefaultSecretID = "v1"

// Secret is an operator master secret together with the id recorded on every
// blob sealed under it.
type Secret struct {
	ID    string
	Value string
}

// Keyring holds every master secret the service may need to open stored keys.
// New keys are always sealed under the current secret; older ones stay
// readable until the wallets using them are rotated.
type Keyring struct {
	current string
	secrets map[string]string
}

// NewKeyring builds a keyring whose current secret is current. retired maps
// ids of earlier secrets to their values.
func NewKeyring(current Secret, retired map[string]string) (*Keyring, error) {
	if current.ID == "" || current.Value == "" {
		return nil, fmt.Errorf("current master secret needs an id and a value")
	}
	secrets := map[string]string{current.ID: current.Value}
	for id, value := range retired {
		if id == current.ID {
			return nil, fmt.Errorf("retired master secret %q shadows the current one", id)
		}
		if id == "" || value == "" {
			return nil, fmt.Errorf("retired master secret entries need an id and a value")
		}
		secrets[id] = value
	}
	return &Keyring{current: current.ID, secrets: secrets}, nil
}

// Current returns the secret new keys are sealed under.
func (k *Keyring) Current() Secret {
	return Secret{ID: k.current, Value: k.secrets[k.current]}
}

// Lookup resolves the secret a wallet's key was sealed under.
func (k *Keyring) Lookup(id string) (Secret, error) {
	if id == "" {
		id = DefaultSecretID
	}
	value, ok := k.secrets[id]
	if !ok {
		return Secret{}, apperr.New(apperr.CodeDecryption, fmt.Sprintf("master secret %q is not loaded", id))
	}
	return Secret{ID: id, Value: value}, nil
}
