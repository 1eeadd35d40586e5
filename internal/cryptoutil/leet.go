package cryptoutil

import (
	"crypto/sha256"
	"fmt"
	"math/big"
)

// LeetFlag derives the per-user variant of a "leet" flag: a deterministic
// two-round letter-case permutation of base's interior content, seeded by
// the user's signed token and a deployment-wide salt. base must be of the
// form "flag{...}"; the braces are preserved and only the interior is
// permuted.
func LeetFlag(base, token, salt string) string {
	const prefix, suffix = "flag{", "}"
	if len(base) < len(prefix)+len(suffix) {
		return base
	}
	inner := []rune(base[len(prefix) : len(base)-len(suffix)])

	var letterIdx []int
	for i, r := range inner {
		if isASCIILetter(r) {
			letterIdx = append(letterIdx, i)
		}
	}
	if len(letterIdx) == 0 {
		return base
	}

	seed := flagSeed(token, salt)
	mod := big.NewInt(123457)
	mul := big.NewInt(114547)
	add := big.NewInt(233)

	advance := func() {
		seed.Add(seed, add)
		seed.Mul(seed, mul)
		seed.Mod(seed, mod)
	}
	// Match the original's initial transform: seed = (x+233)*114547 % 123457.
	advance()

	rounds := 2
	if rounds > len(letterIdx) {
		rounds = len(letterIdx)
	}
	for i := 0; i < rounds; i++ {
		idxOfIdx := new(big.Int).Mod(seed, big.NewInt(int64(len(letterIdx)))).Int64()
		pos := letterIdx[idxOfIdx]
		advance()

		letterIdx = append(letterIdx[:idxOfIdx], letterIdx[idxOfIdx+1:]...)

		inner[pos] = toggleCase(inner[pos])
	}

	return prefix + string(inner) + suffix
}

func isASCIILetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func toggleCase(r rune) rune {
	switch {
	case r >= 'a' && r <= 'z':
		return r - ('a' - 'A')
	case r >= 'A' && r <= 'Z':
		return r + ('a' - 'A')
	default:
		return r
	}
}

// GetPartition returns a deterministic partition index in [0, nPart) for a
// given user/challenge pair, used by "partitioned" flags:
// sha256("<uid>-<challenge key>") mod nPart.
func GetPartition(uid int64, challengeKey string, nPart int) int {
	if nPart <= 0 {
		return 0
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%d-%s", uid, challengeKey)))
	n := new(big.Int).SetBytes(h[:])
	return int(new(big.Int).Mod(n, big.NewInt(int64(nPart))).Int64())
}

// GetPartitions returns one partition index per entry of nParts, treating
// their product as a single combined partition space and unpacking it
// mixed-radix — used by word-list-style "dynamic" flags that need several
// independent per-user choices.
func GetPartitions(uid int64, challengeKey string, nParts []int) []int {
	totParts := 1
	for _, n := range nParts {
		if n <= 0 {
			n = 1
		}
		totParts *= n
	}

	part := GetPartition(uid, challengeKey, totParts)
	out := make([]int, len(nParts))
	for i, n := range nParts {
		if n <= 0 {
			n = 1
		}
		out[i] = part % n
		part /= n
	}
	return out
}
