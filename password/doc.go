// Package password provides argon2id hashing in PHC string format.
//
// The identity engine's contract with this package is
// verify(hash, candidate) -> bool; algorithm parameters are carried inside
// the stored hash so they can be raised without invalidating old rows.
// [Argon2.Dummy] exists solely to equalize the cost of login attempts against
// nonexistent accounts.
package password
