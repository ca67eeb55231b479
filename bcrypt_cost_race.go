//go:build race

package auth

import "golang.org/x/crypto/bcrypt"

// race builds are several times slower, hashing at the library default
// keeps the suites inside their timeouts
func passwordHashCost() int {
	return bcrypt.DefaultCost
}
