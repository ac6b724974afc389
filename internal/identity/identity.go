// Package identity generates user identities: ids, random display names, and
// starter profile pictures.
//
// Display names pair an adjective and a noun with one half of the pair always
// French and the other English, e.g. "Aventureux_Fox" or "Brave_Renard".
package identity

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
)

const shortIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// ProfilePicCount is the number of stock profile pictures (pp1..ppN).
const ProfilePicCount = 25

type wordPair struct {
	french  string
	english string
}

var adjectives = []wordPair{
	{"Aventureux", "Adventurous"},
	{"Brave", "Brave"},
	{"Curieux", "Curious"},
	{"Joyeux", "Joyful"},
	{"Malin", "Clever"},
	{"Paisible", "Peaceful"},
	{"Rapide", "Swift"},
	{"Sage", "Wise"},
	{"Vaillant", "Valiant"},
	{"Vif", "Lively"},
}

var nouns = []wordPair{
	{"Renard", "Fox"},
	{"Loup", "Wolf"},
	{"Hibou", "Owl"},
	{"Lion", "Lion"},
	{"Aigle", "Eagle"},
	{"Dauphin", "Dolphin"},
	{"Tigre", "Tiger"},
	{"Corbeau", "Raven"},
	{"Lynx", "Lynx"},
	{"Faucon", "Falcon"},
}

// NewUserID returns a fresh user id.
func NewUserID() string {
	return uuid.NewString()
}

// NewPostID returns a fresh post id.
func NewPostID() string {
	return uuid.NewString()
}

// ShortID returns a short random identifier of the given length, used to
// uniquify object names.
func ShortID(length int) string {
	if length <= 0 {
		length = 6
	}
	b := make([]byte, length)
	for i := range b {
		b[i] = shortIDAlphabet[rand.IntN(len(shortIDAlphabet))]
	}
	return string(b)
}

// RandomUsername returns an Adjective_Noun name with one French half.
func RandomUsername() string {
	adj := adjectives[rand.IntN(len(adjectives))]
	noun := nouns[rand.IntN(len(nouns))]
	if rand.IntN(2) == 0 {
		return adj.french + "_" + noun.english
	}
	return adj.english + "_" + noun.french
}

// RandomProfilePicURL returns one of the stock profile picture URLs under the
// supplied CDN base.
func RandomProfilePicURL(cdnBase string) string {
	n := rand.IntN(ProfilePicCount) + 1
	return fmt.Sprintf("%spp%d.jpg", cdnBase, n)
}
