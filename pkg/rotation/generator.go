package rotation

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/lgtm-migrator/amplify-ci-support/pkg/secretstore"
)

// Generator produces the candidate value set for a rotation run. The
// current value set is passed in so generators can carry over fields that
// do not rotate, such as usernames or hostnames.
type Generator interface {
	Generate(ctx context.Context, current secretstore.ValueSet) (secretstore.ValueSet, error)
}

// passwordCharset excludes quotes, backslashes and whitespace so generated
// values survive shell interpolation and JSON embedding untouched.
const passwordCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!#$%&()*+,-.:;<=>?@[]^_{|}~"

// PasswordGenerator replaces one field of the value set with a random
// password and carries every other field over unchanged.
type PasswordGenerator struct {
	// Field is the value-set key to regenerate, e.g. "password".
	Field string
	// Length of the generated password. Defaults to 32.
	Length int
}

// Generate draws the new value from crypto/rand.
func (g PasswordGenerator) Generate(_ context.Context, current secretstore.ValueSet) (secretstore.ValueSet, error) {
	if g.Field == "" {
		return nil, fmt.Errorf("password generator requires a field name")
	}
	length := g.Length
	if length <= 0 {
		length = 32
	}

	password := make([]byte, length)
	max := big.NewInt(int64(len(passwordCharset)))
	for i := range password {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return nil, fmt.Errorf("generating password: %w", err)
		}
		password[i] = passwordCharset[n.Int64()]
	}

	candidate := make(secretstore.ValueSet, len(current)+1)
	for k, v := range current {
		candidate[k] = v
	}
	candidate[g.Field] = string(password)
	return candidate, nil
}
