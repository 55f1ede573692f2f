package license

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"regexp"
	"sort"
	"strings"
)

// Game identifies a supported title
type Game string

const (
	GameStandoff2 Game = "STANDOFF2"
	GamePUBGM     Game = "PUBGM"
	GameFreeFire  Game = "FREEFIRE"
)

// gamePrefixes is the single source for both the supported game set and the
// key prefix of each game. Adding a game means adding a row here.
var gamePrefixes = map[Game]string{
	GameStandoff2: "STDF",
	GamePUBGM:     "PUBG",
	GameFreeFire:  "FFIR",
}

const (
	keyAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	segmentLength = 6
	segmentCount  = 3
	keySeparator  = "-"
)

// customKeyPattern bounds caller-chosen key strings
var customKeyPattern = regexp.MustCompile(`^[A-Z0-9-]{4,64}$`)

// Games returns the supported games in stable order
func Games() []Game {
	games := make([]Game, 0, len(gamePrefixes))
	for g := range gamePrefixes {
		games = append(games, g)
	}
	sort.Slice(games, func(i, j int) bool { return games[i] < games[j] })
	return games
}

// Valid reports whether g is a supported game
func (g Game) Valid() bool {
	_, ok := gamePrefixes[g]
	return ok
}

// Prefix returns the four character key prefix of g
func (g Game) Prefix() string {
	return gamePrefixes[g]
}

// ParseGame normalizes s and checks it against the supported set
func ParseGame(s string) (Game, error) {
	g := Game(strings.ToUpper(strings.TrimSpace(s)))
	if !g.Valid() {
		return "", ErrInvalidGame
	}
	return g, nil
}

// NormalizeKey canonicalizes a presented key string
func NormalizeKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Generator produces random key strings of the form PPPP-XXXXXX-XXXXXX-XXXXXX
type Generator struct {
	random io.Reader
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{random: rand.Reader}
}

// NewGeneratorFromReader draws randomness from r instead of crypto/rand
func NewGeneratorFromReader(r io.Reader) *Generator {
	return &Generator{random: r}
}

// Generate returns a fresh key string for game
func (g *Generator) Generate(game Game) (string, error) {
	if !game.Valid() {
		return "", ErrInvalidGame
	}

	parts := make([]string, 0, segmentCount+1)
	parts = append(parts, game.Prefix())
	for i := 0; i < segmentCount; i++ {
		segment, err := g.randomSegment(segmentLength)
		if err != nil {
			return "", fmt.Errorf("failed to generate key segment: %w", err)
		}
		parts = append(parts, segment)
	}

	return strings.Join(parts, keySeparator), nil
}

func (g *Generator) randomSegment(length int) (string, error) {
	alphabetSize := big.NewInt(int64(len(keyAlphabet)))
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(g.random, alphabetSize)
		if err != nil {
			return "", err
		}
		result[i] = keyAlphabet[n.Int64()]
	}
	return string(result), nil
}

// ValidateCustomKey normalizes and checks a caller-chosen key string
func ValidateCustomKey(s string) (string, error) {
	key := NormalizeKey(s)
	if !customKeyPattern.MatchString(key) {
		return "", Invalid("custom key must be 4-64 characters of A-Z, 0-9 and '-'")
	}
	return key, nil
}
