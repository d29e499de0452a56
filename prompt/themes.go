package prompt

import "sort"

// Theme describes one escape room setting.
type Theme struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Tagline string `json:"tagline" yaml:"tagline"`
	Setting string `json:"setting" yaml:"setting"`
	Icon    string `json:"icon" yaml:"icon"`
	Accent  string `json:"accent" yaml:"accent"`
}

// CustomThemeID is the theme used for games started from an uploaded image.
const CustomThemeID = "custom"

var themes = map[string]Theme{
	"temple": {
		ID:      "temple",
		Name:    "Ancient Temple",
		Tagline: "Lost ruins hide secrets older than time itself.",
		Setting: "You are trapped inside an ancient temple deep in a forgotten jungle. " +
			"Crumbling stone walls are covered in mysterious glyphs. Torchlight flickers " +
			"across golden artifacts and vine-covered passageways. The air smells of dust " +
			"and ancient incense. Every puzzle you solve opens the next sealed chamber, " +
			"bringing you closer to the temple's exit.",
		Icon:   "🏛️",
		Accent: "amber",
	},
	"space": {
		ID:      "space",
		Name:    "Space Station",
		Tagline: "Oxygen is running out. Solve fast or drift forever.",
		Setting: "You are stranded on an abandoned orbital space station. Emergency lights " +
			"pulse red. Holographic displays glitch with fragmented data. The airlock " +
			"timer is counting down. Each puzzle you solve restores a subsystem, " +
			"bringing the escape pod back online. The void of space waits outside " +
			"every window.",
		Icon:   "🚀",
		Accent: "cyan",
	},
	"haunted": {
		ID:      "haunted",
		Name:    "Haunted Mansion",
		Tagline: "The doors locked behind you. The ghosts know you're here.",
		Setting: "You are trapped inside a Victorian mansion that hasn't seen sunlight in decades. " +
			"Portraits watch you with moving eyes. Floorboards creak with phantom footsteps. " +
			"Candles light themselves in empty rooms. Each puzzle you solve unlocks the next " +
			"cursed chamber. Solve them all before midnight, or become the mansion's newest ghost.",
		Icon:   "👻",
		Accent: "purple",
	},
	CustomThemeID: {
		ID:      CustomThemeID,
		Name:    "Custom Room",
		Tagline: "Your own photo holds the key.",
		Setting: "You are locked in a room built around a picture you brought with you. " +
			"Every detail in it could be a clue, and each solved puzzle opens another lock.",
		Icon:   "🖼️",
		Accent: "emerald",
	},
}

// LookupTheme returns the theme with the given id.
func LookupTheme(id string) (Theme, bool) {
	t, ok := themes[id]
	return t, ok
}

// Themes returns every selectable theme sorted by id. The custom theme is
// excluded since it can only be started from an image.
func Themes() []Theme {
	out := make([]Theme, 0, len(themes))
	for id, t := range themes {
		if id == CustomThemeID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
