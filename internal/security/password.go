package security

import "golang.org/x/crypto/bcrypt"

// Passwords hashes and checks credentials with bcrypt. A cost outside
// bcrypt's supported range falls back to the library default, so a
// misconfigured deployment degrades to slow rather than weak.
type Passwords struct {
	cost int
}

func NewPasswords(cost int) Passwords {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return Passwords{cost: cost}
}

func (p Passwords) Hash(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), p.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (p Passwords) Check(plain, hashed string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}
